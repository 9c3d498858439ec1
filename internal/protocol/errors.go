package protocol

// ErrorType classifies a stream error surfaced to the client.
type ErrorType string

// Stream error types. Each maps to a fixed retryability flag so clients can
// decide whether to keep sending chunks or degrade.
const (
	// ErrorEngineUnavailable means the transcription engine is not ready.
	// Fatal for the connection.
	ErrorEngineUnavailable ErrorType = "engine_unavailable"

	// ErrorNoSession means a binary chunk arrived with no active session.
	ErrorNoSession ErrorType = "no_session"

	// ErrorProtocol means a malformed or invalid control message.
	ErrorProtocol ErrorType = "protocol"

	// ErrorResource means the engine signaled resource exhaustion.
	// The chunk's transcript is lost and retrying will not help.
	ErrorResource ErrorType = "resource"

	// ErrorTemporary means a transient failure; the next chunk is expected
	// to succeed.
	ErrorTemporary ErrorType = "temporary"

	// ErrorTranscription means an unclassified engine failure for one chunk.
	ErrorTranscription ErrorType = "transcription"

	// ErrorConnection means an unexpected failure in the handler loop.
	ErrorConnection ErrorType = "connection"
)

// Retryable reports whether a client should expect subsequent chunks or
// operations of the same kind to succeed.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTemporary, ErrorTranscription:
		return true
	default:
		return false
	}
}

// ErrorMessage is the wire form of a stream error.
type ErrorMessage struct {
	Type      string    `json:"type"`
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// NewError builds an error message with the retryable flag derived from the
// error type.
func NewError(errType ErrorType, message string) ErrorMessage {
	return ErrorMessage{
		Type:      MessageError,
		ErrorType: errType,
		Message:   message,
		Retryable: errType.Retryable(),
	}
}
