package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types sent by the client as WebSocket text frames.
const (
	ControlStart      = "start"
	ControlStop       = "stop"
	ControlPing       = "ping"
	ControlDisconnect = "disconnect"
)

// Server message types sent back to the client.
const (
	MessageReady        = "ready"
	MessageSessionStart = "session_start"
	MessageTranscript   = "transcript"
	MessageSessionEnd   = "session_end"
	MessagePong         = "pong"
	MessageError        = "error"
)

// ControlMessage is a parsed client control frame.
type ControlMessage struct {
	Type           string `json:"type"`
	Language       string `json:"language,omitempty"`
	HighDetailMode bool   `json:"high_detail_mode,omitempty"`
}

// ParseControl parses and validates a client control frame.
func ParseControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed control message: %w", err)
	}

	switch msg.Type {
	case ControlStart, ControlStop, ControlPing, ControlDisconnect:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("control message missing type")
	default:
		return nil, fmt.Errorf("unknown control message type %q", msg.Type)
	}
}

// Word carries a per-word timestamp within a transcript segment.
// Only populated in high detail mode.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ReadyMessage is sent once after a successful upgrade.
type ReadyMessage struct {
	Type string `json:"type"`
}

// SessionStartMessage acknowledges a start control message.
type SessionStartMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// TranscriptMessage carries one session-absolute transcript segment.
type TranscriptMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	ChunkIndex int     `json:"chunk_index"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// SessionEndMessage summarizes a session after a stop control message.
type SessionEndMessage struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"session_id"`
	TotalSegments int     `json:"total_segments"`
	TotalDuration float64 `json:"total_duration"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// NewReady returns a ready message.
func NewReady() ReadyMessage {
	return ReadyMessage{Type: MessageReady}
}

// NewSessionStart returns a session_start message for the given session id.
func NewSessionStart(sessionID string) SessionStartMessage {
	return SessionStartMessage{Type: MessageSessionStart, SessionID: sessionID}
}

// NewSessionEnd returns a session_end summary message.
func NewSessionEnd(sessionID string, totalSegments int, totalDuration float64) SessionEndMessage {
	return SessionEndMessage{
		Type:          MessageSessionEnd,
		SessionID:     sessionID,
		TotalSegments: totalSegments,
		TotalDuration: totalDuration,
	}
}

// NewPong returns a pong message.
func NewPong() PongMessage {
	return PongMessage{Type: MessagePong}
}
