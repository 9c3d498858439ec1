package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure structurally.
type ErrorKind int

const (
	// KindTranscription is a generic, unclassified engine failure.
	KindTranscription ErrorKind = iota

	// KindUnavailable means the engine is not ready to serve at all.
	KindUnavailable

	// KindResource means the engine ran out of memory or accelerator
	// capacity; retrying the same request will not help.
	KindResource

	// KindTemporary is a transient failure; the next request is expected
	// to succeed.
	KindTemporary
)

// String returns the kind name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindResource:
		return "resource"
	case KindTemporary:
		return "temporary"
	default:
		return "transcription"
	}
}

// Error is a classified engine failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to KindTranscription for
// errors that did not originate in an engine client.
func KindOf(err error) ErrorKind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTemporary
	}
	return KindTranscription
}

// Word is a single word with chunk-relative timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one transcribed span with chunk-relative times.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Result is the output of transcribing one audio chunk.
type Result struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// DiarizationResult assigns speaker labels to segments.
type DiarizationResult struct {
	Segments []Segment `json:"segments"`
	Speakers []string  `json:"speakers"`
}

// TranscribeOptions configures one transcription request.
type TranscribeOptions struct {
	Language       string
	WordTimestamps bool
}

// Transcriber turns one audio chunk into chunk-relative segments.
// Implementations must be safe for concurrent use.
type Transcriber interface {
	// Available reports whether the engine is ready to serve requests.
	Available(ctx context.Context) bool

	// Transcribe processes the audio file at path. Failures are returned
	// as *Error values with a structured kind.
	Transcribe(ctx context.Context, path string, opts TranscribeOptions) (*Result, error)
}

// Diarizer overlays speaker labels on transcribed segments.
type Diarizer interface {
	Diarize(ctx context.Context, path string, segments []Segment) (*DiarizationResult, error)
}
