package session

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/live-transcription-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func newTestRegistry(ttl time.Duration, maxSessions int) *Registry {
	return NewRegistry(ttl, maxSessions, testLogger(), testMetrics())
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)

	sess, err := reg.Create("en", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Expected generated session id")
	}

	got, ok := reg.Get(sess.ID)
	if !ok {
		t.Fatal("Expected to find created session")
	}
	if got != sess {
		t.Error("Expected Get to return the same session")
	}
	if reg.Count() != 1 {
		t.Errorf("Expected count 1, got %d", reg.Count())
	}
}

func TestRegistryUniqueIDs(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := reg.Create("en", false)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if seen[sess.ID] {
			t.Fatalf("Duplicate session id %s", sess.ID)
		}
		seen[sess.ID] = true
	}
}

func TestRegistryMaxSessions(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 2)

	if _, err := reg.Create("en", false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sess2, err := reg.Create("en", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := reg.Create("en", false); err != ErrTooManySessions {
		t.Errorf("Expected ErrTooManySessions, got %v", err)
	}

	// Removing one frees a slot.
	reg.Remove(sess2.ID)
	if _, err := reg.Create("en", false); err != nil {
		t.Errorf("Expected creation after removal to succeed, got %v", err)
	}
}

func TestRegistryTake(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)

	sess, _ := reg.Create("en", false)

	taken, ok := reg.Take(sess.ID)
	if !ok || taken != sess {
		t.Fatal("Expected Take to return the session")
	}

	if _, ok := reg.Get(sess.ID); ok {
		t.Error("Expected session to be removed after Take")
	}
	if _, ok := reg.Take(sess.ID); ok {
		t.Error("Expected second Take to miss")
	}
}

func TestRegistryTakeConcurrent(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)
	sess, _ := reg.Create("en", false)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := reg.Take(sess.ID); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("Expected exactly one Take winner, got %d", winners.Load())
	}
}

func TestRegistryPut(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)
	sess, _ := reg.Create("en", false)

	taken, _ := reg.Take(sess.ID)
	reg.Put(taken)

	if _, ok := reg.Get(sess.ID); !ok {
		t.Error("Expected session to be back after Put")
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)
	sess, _ := reg.Create("en", false)

	if !reg.Remove(sess.ID) {
		t.Error("Expected Remove to report existing session")
	}
	if reg.Remove(sess.ID) {
		t.Error("Expected second Remove to report missing session")
	}
	if reg.Remove("nonexistent") {
		t.Error("Expected Remove of unknown id to report missing session")
	}
}

func TestSweepExpired(t *testing.T) {
	ttl := 10 * time.Minute
	reg := newTestRegistry(ttl, 0)

	now := time.Now()

	live, _ := reg.Create("en", false)

	justUnder, _ := reg.Create("en", false)
	justUnder.MarkDisconnected(now.Add(-ttl + time.Second))

	justOver, _ := reg.Create("en", false)
	justOver.MarkDisconnected(now.Add(-ttl - time.Second))

	reaped := reg.SweepExpired(now)
	if reaped != 1 {
		t.Errorf("Expected 1 session reaped, got %d", reaped)
	}

	if _, ok := reg.Get(live.ID); !ok {
		t.Error("Expected live session to survive the sweep")
	}
	if _, ok := reg.Get(justUnder.ID); !ok {
		t.Error("Expected session within TTL to survive the sweep")
	}
	if _, ok := reg.Get(justOver.ID); ok {
		t.Error("Expected session past TTL to be reaped")
	}
}

func TestSweepNeverTouchesConnectedSessions(t *testing.T) {
	reg := newTestRegistry(time.Second, 0)

	sess, _ := reg.Create("en", false)

	// Even far in the future, a session with no disconnect time stays.
	reaped := reg.SweepExpired(time.Now().Add(24 * time.Hour))
	if reaped != 0 {
		t.Errorf("Expected 0 sessions reaped, got %d", reaped)
	}
	if _, ok := reg.Get(sess.ID); !ok {
		t.Error("Expected connected session to survive the sweep")
	}
}

func TestListInfo(t *testing.T) {
	reg := newTestRegistry(10*time.Minute, 0)

	reg.Create("en", false)
	reg.Create("uk", true)

	infos := reg.ListInfo()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 session infos, got %d", len(infos))
	}
}
