package session

import (
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/live-transcription-service/internal/engine"
)

// Session is the server-side in-memory record of one in-progress live
// transcription. Segments and audio chunks are append-only while the session
// is live; only the owning connection appends, while REST handlers read or
// remove the session wholesale through the Registry.
type Session struct {
	ID         string
	StartedAt  time.Time
	Language   string
	HighDetail bool

	mu             sync.RWMutex
	segments       []engine.Segment
	audioChunks    [][]byte
	chunkCount     int
	totalDuration  float64
	speakers       map[string]struct{}
	disconnectedAt *time.Time
}

// Stats is the read-only snapshot used by autosave checks and stop replies.
type Stats struct {
	SegmentCount  int
	TotalDuration float64
}

// Info is the monitoring snapshot of one live session.
type Info struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	Language      string     `json:"language"`
	HighDetail    bool       `json:"high_detail_mode"`
	ChunkCount    int        `json:"chunk_count"`
	SegmentCount  int        `json:"segment_count"`
	TotalDuration float64    `json:"total_duration"`
	Disconnected  *time.Time `json:"disconnected_at,omitempty"`
}

func newSession(id, language string, highDetail bool) *Session {
	return &Session{
		ID:         id,
		StartedAt:  time.Now(),
		Language:   language,
		HighDetail: highDetail,
		speakers:   make(map[string]struct{}),
	}
}

// ChunkCount returns the number of chunks consumed so far. The next chunk's
// index equals this value.
func (s *Session) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkCount
}

// AppendChunk records the outcome of one processed chunk: its rebased
// segments (possibly none), the raw audio, and the new session duration.
// Duration never decreases, so a short trailing segment after a long one
// cannot roll the timeline back.
func (s *Session) AppendChunk(segments []engine.Segment, audio []byte, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments = append(s.segments, segments...)
	s.audioChunks = append(s.audioChunks, audio)
	s.chunkCount++

	if duration > s.totalDuration {
		s.totalDuration = duration
	}

	for _, seg := range segments {
		if seg.Speaker != "" {
			s.speakers[seg.Speaker] = struct{}{}
		}
	}
}

// Stats returns the current segment count and total duration.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		SegmentCount:  len(s.segments),
		TotalDuration: s.totalDuration,
	}
}

// Segments returns a copy of the accumulated transcript segments in
// append (= time) order.
func (s *Session) Segments() []engine.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Speakers returns the distinct speaker labels observed so far, sorted.
func (s *Session) Speakers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := make([]string, 0, len(s.speakers))
	for label := range s.speakers {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// AudioBytes concatenates all buffered audio chunks in arrival order.
func (s *Session) AudioBytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, chunk := range s.audioChunks {
		total += len(chunk)
	}

	out := make([]byte, 0, total)
	for _, chunk := range s.audioChunks {
		out = append(out, chunk...)
	}
	return out
}

// MarkDisconnected stamps the disconnect time. The first call wins; a
// session is never reconnected.
func (s *Session) MarkDisconnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnectedAt == nil {
		t := now
		s.disconnectedAt = &t
	}
}

// DisconnectedAt returns the disconnect time, or nil while the owning
// connection is live.
func (s *Session) DisconnectedAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnectedAt
}

// GetInfo returns a monitoring snapshot of the session.
func (s *Session) GetInfo() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:            s.ID,
		StartedAt:     s.StartedAt,
		Language:      s.Language,
		HighDetail:    s.HighDetail,
		ChunkCount:    s.chunkCount,
		SegmentCount:  len(s.segments),
		TotalDuration: s.totalDuration,
		Disconnected:  s.disconnectedAt,
	}
}
