package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/live-transcription-service/internal/metrics"
	"github.com/skypro1111/live-transcription-service/internal/store"
)

// ErrSessionNotFound is returned by bridge operations when the session id is
// unknown, already saved, discarded, or reaped.
var ErrSessionNotFound = errors.New("session not found")

// RecordingStore abstracts the durable writes the bridge needs. The concrete
// implementation is *store.Store.
type RecordingStore interface {
	SaveRecording(ctx context.Context, rec store.Recording, tr store.Transcript,
		segments []store.Segment, speakers []store.Speaker, tagNames []string) error
}

// SaveRequest carries the caller-provided metadata for a save.
type SaveRequest struct {
	Title       string
	SaveAudio   bool
	ProjectID   string
	Tags        []string
	Description string
}

// SaveResult reports the durable ids created by a successful save.
type SaveResult struct {
	RecordingID  string
	TranscriptID string
	Message      string
}

// Bridge converts an ephemeral live session into durable storage records, or
// discards it. It is the only component that removes sessions other than the
// reaper sweep.
type Bridge struct {
	registry *Registry
	store    RecordingStore
	audioDir string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBridge creates a persistence bridge over the registry and store.
// audioDir is where concatenated session audio is written when requested.
func NewBridge(registry *Registry, st RecordingStore, audioDir string,
	logger *slog.Logger, m *metrics.Metrics) *Bridge {

	return &Bridge{
		registry: registry,
		store:    st,
		audioDir: audioDir,
		logger:   logger,
		metrics:  m,
	}
}

// AutosaveCheck returns the current segment count and duration for client
// polling. It reads in-memory state only; the "autosave" is the session
// itself persisting across stop and reconnect.
func (b *Bridge) AutosaveCheck(id string) (Stats, error) {
	sess, ok := b.registry.Get(id)
	if !ok {
		return Stats{}, ErrSessionNotFound
	}
	return sess.Stats(), nil
}

// Save atomically takes the session out of the registry and persists it. If
// the durable write fails, the session is re-inserted so the caller can
// retry; it is never silently lost. Concurrent saves for the same id resolve
// to exactly one winner, the rest observe ErrSessionNotFound.
func (b *Bridge) Save(ctx context.Context, id string, req SaveRequest) (*SaveResult, error) {
	sess, ok := b.registry.Take(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	recordingID := uuid.New().String()
	transcriptID := uuid.New().String()
	stats := sess.Stats()

	audioPath := ""
	if req.SaveAudio {
		path, err := b.writeAudio(recordingID, sess.AudioBytes())
		if err != nil {
			b.registry.Put(sess)
			return nil, fmt.Errorf("write session audio: %w", err)
		}
		audioPath = path
	}

	rec := store.Recording{
		ID:          recordingID,
		Title:       req.Title,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		AudioPath:   audioPath,
		Language:    sess.Language,
		Duration:    stats.TotalDuration,
		CreatedAt:   time.Now().UTC(),
	}

	tr := store.Transcript{
		ID:          transcriptID,
		RecordingID: recordingID,
		Language:    sess.Language,
		HighDetail:  sess.HighDetail,
	}

	segments := make([]store.Segment, 0, stats.SegmentCount)
	for i, seg := range sess.Segments() {
		words := ""
		if len(seg.Words) > 0 {
			encoded, err := json.Marshal(seg.Words)
			if err == nil {
				words = string(encoded)
			}
		}
		segments = append(segments, store.Segment{
			ID:           uuid.New().String(),
			TranscriptID: transcriptID,
			Index:        i,
			Start:        seg.Start,
			End:          seg.End,
			Text:         seg.Text,
			Speaker:      seg.Speaker,
			Confidence:   seg.Confidence,
			Words:        words,
		})
	}

	labels := sess.Speakers()
	speakers := make([]store.Speaker, 0, len(labels))
	for _, label := range labels {
		speakers = append(speakers, store.Speaker{
			ID:           uuid.New().String(),
			TranscriptID: transcriptID,
			Label:        label,
		})
	}

	if err := b.store.SaveRecording(ctx, rec, tr, segments, speakers, req.Tags); err != nil {
		if audioPath != "" {
			os.Remove(audioPath)
		}
		b.registry.Put(sess)

		b.logger.Error("durable save failed, session retained",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save recording: %w", err)
	}

	b.metrics.RecordSessionSaved()

	b.logger.Info("session saved",
		slog.String("session_id", id),
		slog.String("recording_id", recordingID),
		slog.Int("segments", len(segments)),
		slog.Int("speakers", len(speakers)),
		slog.Bool("audio_saved", audioPath != ""),
	)

	return &SaveResult{
		RecordingID:  recordingID,
		TranscriptID: transcriptID,
		Message:      fmt.Sprintf("saved %d segments (%.1fs)", len(segments), stats.TotalDuration),
	}, nil
}

// Discard removes the session with no durable side effects.
func (b *Bridge) Discard(id string) error {
	if !b.registry.Remove(id) {
		return ErrSessionNotFound
	}

	b.metrics.RecordSessionDiscarded()
	b.logger.Info("session discarded", slog.String("session_id", id))
	return nil
}

// writeAudio concatenates the session's buffered chunks into one durable
// file named after the recording.
func (b *Bridge) writeAudio(recordingID string, audio []byte) (string, error) {
	if err := os.MkdirAll(b.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	path := filepath.Join(b.audioDir, recordingID+".webm")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}
