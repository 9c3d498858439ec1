package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skypro1111/live-transcription-service/internal/engine"
	"github.com/skypro1111/live-transcription-service/internal/metrics"
	"github.com/skypro1111/live-transcription-service/internal/protocol"
)

// ChunkError is a classified per-chunk processing failure. It is reported to
// the client and never tears down the session or the connection; the chunk's
// transcript is lost but recording continues.
type ChunkError struct {
	Type protocol.ErrorType
	Err  error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk processing failed (%s): %v", e.Type, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ProcessorConfig contains chunk pipeline configuration.
type ProcessorConfig struct {
	// ChunkIntervalSeconds is the fixed audio duration each chunk covers,
	// agreed with the producer of chunks.
	ChunkIntervalSeconds float64

	// ChunkTimeout bounds one transcription call so a hung engine cannot
	// block the session forever.
	ChunkTimeout time.Duration

	// TempDir is where chunks are materialized for the engine. Empty means
	// the OS default.
	TempDir string
}

// Processor turns one raw audio chunk plus the owning session's accumulated
// state into zero or more session-absolute transcript segments.
type Processor struct {
	transcriber engine.Transcriber
	diarizer    engine.Diarizer
	config      ProcessorConfig
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewProcessor creates a chunk pipeline over the given collaborators.
// diarizer may be nil when diarization is disabled for the deployment.
func NewProcessor(transcriber engine.Transcriber, diarizer engine.Diarizer,
	config ProcessorConfig, logger *slog.Logger, m *metrics.Metrics) *Processor {

	if config.ChunkIntervalSeconds <= 0 {
		config.ChunkIntervalSeconds = 1.5
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = 30 * time.Second
	}

	return &Processor{
		transcriber: transcriber,
		diarizer:    diarizer,
		config:      config,
		logger:      logger,
		metrics:     m,
	}
}

// ProcessChunk runs one chunk through transcription (and diarization in high
// detail mode), rebases the resulting segments into session-absolute time,
// appends them to the session, and emits each segment in order.
//
// On engine failure the chunk still consumes its slot in the timeline: the
// audio is buffered, the chunk count and duration advance, and only the
// transcript for this chunk is lost. Skipping the slot would shift every
// later chunk's absolute times backward into already-emitted ones.
func (p *Processor) ProcessChunk(ctx context.Context, sess *Session, chunk []byte,
	emit func(seg engine.Segment, chunkIndex int)) error {

	started := time.Now()
	chunkIndex := sess.ChunkCount()
	offset := ChunkOffset(chunkIndex, p.config.ChunkIntervalSeconds)
	silentDuration := offset + p.config.ChunkIntervalSeconds

	path, err := p.materialize(chunk)
	if err != nil {
		sess.AppendChunk(nil, chunk, silentDuration)
		p.metrics.RecordChunkFailed()
		return &ChunkError{Type: protocol.ErrorTemporary, Err: err}
	}
	defer os.Remove(path)

	callCtx, cancel := context.WithTimeout(ctx, p.config.ChunkTimeout)
	defer cancel()

	result, err := p.transcriber.Transcribe(callCtx, path, engine.TranscribeOptions{
		Language:       sess.Language,
		WordTimestamps: sess.HighDetail,
	})
	if err != nil {
		sess.AppendChunk(nil, chunk, silentDuration)
		p.metrics.RecordChunkFailed()

		p.logger.Warn("chunk transcription failed",
			slog.String("session_id", sess.ID),
			slog.Int("chunk_index", chunkIndex),
			slog.String("error", err.Error()),
		)
		return &ChunkError{Type: classifyEngineError(err), Err: err}
	}

	segments := result.Segments

	if sess.HighDetail && len(segments) > 0 && p.diarizer != nil {
		diarized, derr := p.diarizer.Diarize(callCtx, path, segments)
		if derr != nil {
			// Non-fatal: segments go out without speaker labels.
			p.logger.Warn("diarization failed, continuing without speakers",
				slog.String("session_id", sess.ID),
				slog.Int("chunk_index", chunkIndex),
				slog.String("error", derr.Error()),
			)
		} else if len(diarized.Segments) == len(segments) {
			segments = diarized.Segments
		}
	}

	rebased := Rebase(segments, offset)

	duration := silentDuration
	if len(rebased) > 0 {
		duration = rebased[len(rebased)-1].End
	}

	sess.AppendChunk(rebased, chunk, duration)

	p.metrics.RecordChunkProcessed(time.Since(started).Seconds(), len(rebased))

	for _, seg := range rebased {
		emit(seg, chunkIndex)
	}

	return nil
}

// materialize writes the chunk to a transient file the engine can read.
// Callers must remove the returned path on every exit path.
func (p *Processor) materialize(chunk []byte) (string, error) {
	f, err := os.CreateTemp(p.config.TempDir, "live-chunk-*.audio")
	if err != nil {
		return "", fmt.Errorf("create temp chunk file: %w", err)
	}

	if _, err := f.Write(chunk); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp chunk file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp chunk file: %w", err)
	}

	return f.Name(), nil
}

// classifyEngineError maps a structured engine error kind to the stream
// error taxonomy. Mid-stream unavailability is reported as temporary: the
// connection already passed the availability gate, so the engine is expected
// back.
func classifyEngineError(err error) protocol.ErrorType {
	switch engine.KindOf(err) {
	case engine.KindResource:
		return protocol.ErrorResource
	case engine.KindTemporary, engine.KindUnavailable:
		return protocol.ErrorTemporary
	default:
		return protocol.ErrorTranscription
	}
}
