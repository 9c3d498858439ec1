package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/live-transcription-service/internal/metrics"
)

// ErrTooManySessions is returned by Create when the configured live session
// cap is reached.
var ErrTooManySessions = fmt.Errorf("maximum number of live sessions reached")

// Registry is the single source of truth mapping session id to Session. It
// is shared by all connection handlers, the persistence bridge, and the
// reaper sweep; every operation is pure in-memory bookkeeping under one lock.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxSessions int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewRegistry creates an empty registry. ttl is the grace period a
// disconnected-but-unsaved session is retained before a sweep purges it.
// maxSessions <= 0 means no cap.
func NewRegistry(ttl time.Duration, maxSessions int, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		maxSessions: maxSessions,
		logger:      logger,
		metrics:     m,
	}
}

// Create generates a fresh session id, inserts the session, and returns it.
func (r *Registry) Create(language string, highDetail bool) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrTooManySessions
	}

	sess := newSession(uuid.New().String(), language, highDetail)
	r.sessions[sess.ID] = sess

	r.metrics.RecordSessionCreated()
	r.metrics.SetActiveSessions(len(r.sessions))

	r.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("language", language),
		slog.Bool("high_detail_mode", highDetail),
	)

	return sess, nil
}

// Get retrieves a session without removing it.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Take atomically removes and returns a session. Concurrent callers race to
// exactly one winner, which is what makes double-save impossible.
func (r *Registry) Take(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}

	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
	return sess, true
}

// Put re-inserts a session taken by a save that failed durably, so the
// client can retry instead of losing the transcript.
func (r *Registry) Put(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID] = sess
	r.metrics.SetActiveSessions(len(r.sessions))
}

// Remove deletes a session, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}

	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ListInfo returns monitoring snapshots of all live sessions.
func (r *Registry) ListInfo() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.GetInfo())
	}
	return infos
}

// SweepExpired purges every session whose disconnect time is older than the
// TTL. Sessions still owned by a live connection (nil disconnect time) are
// never touched. Invoked lazily at the start of each new connection rather
// than on a background timer.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, sess := range r.sessions {
		disconnectedAt := sess.DisconnectedAt()
		if disconnectedAt == nil {
			continue
		}
		if now.Sub(*disconnectedAt) > r.ttl {
			delete(r.sessions, id)
			reaped++

			r.logger.Info("session reaped",
				slog.String("session_id", id),
				slog.Time("disconnected_at", *disconnectedAt),
			)
		}
	}

	if reaped > 0 {
		r.metrics.RecordSessionsReaped(reaped)
		r.metrics.SetActiveSessions(len(r.sessions))
	}

	return reaped
}
