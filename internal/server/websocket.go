package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/live-transcription-service/internal/engine"
	"github.com/skypro1111/live-transcription-service/internal/metrics"
	"github.com/skypro1111/live-transcription-service/internal/protocol"
	"github.com/skypro1111/live-transcription-service/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveHandler serves the duplex live transcription endpoint. One instance is
// shared by all connections; each accepted connection runs its own handler
// loop with its own protocol state.
type LiveHandler struct {
	registry    *session.Registry
	processor   *session.Processor
	transcriber engine.Transcriber
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewLiveHandler creates the live endpoint handler.
func NewLiveHandler(registry *session.Registry, processor *session.Processor,
	transcriber engine.Transcriber, logger *slog.Logger, m *metrics.Metrics) *LiveHandler {

	return &LiveHandler{
		registry:    registry,
		processor:   processor,
		transcriber: transcriber,
		logger:      logger,
		metrics:     m,
	}
}

// liveConn wraps the WebSocket connection with a write lock so transcript
// emission and control replies never interleave frames.
type liveConn struct {
	conn    *websocket.Conn
	metrics *metrics.Metrics
	mu      sync.Mutex
}

func (c *liveConn) send(msgType string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.RecordWSMessage("out", msgType)
	return c.conn.WriteJSON(v)
}

func (c *liveConn) sendError(errType protocol.ErrorType, message string) error {
	return c.send(protocol.MessageError, protocol.NewError(errType, message))
}

// ServeHTTP upgrades the request and runs the per-connection handler loop.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.metrics.RecordConnectionOpened()
	defer h.metrics.RecordConnectionClosed()

	// Amortized cleanup: every new connection pays for one reaper sweep
	// instead of running a background timer.
	if reaped := h.registry.SweepExpired(time.Now()); reaped > 0 {
		h.logger.Info("reaper sweep on connect", slog.Int("reaped", reaped))
	}

	client := &liveConn{conn: conn, metrics: h.metrics}

	if !h.transcriber.Available(r.Context()) {
		client.sendError(protocol.ErrorEngineUnavailable, "transcription engine is not available")
		return
	}

	if err := client.send(protocol.MessageReady, protocol.NewReady()); err != nil {
		return
	}

	h.handleConnection(r.Context(), client)
}

// handleConnection is the per-connection state machine: Idle until a start
// control message creates a session, Active while chunks flow, back to Idle
// on stop, Terminated on disconnect or transport close. Every session this
// connection created and that is still live is stamped with its disconnect
// time on the way out.
func (h *LiveHandler) handleConnection(ctx context.Context, client *liveConn) {
	var active *session.Session
	var owned []*session.Session

	defer func() {
		now := time.Now()
		for _, sess := range owned {
			if _, ok := h.registry.Get(sess.ID); ok {
				sess.MarkDisconnected(now)
			}
		}
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("connection read ended", slog.String("error", err.Error()))
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			terminate := h.handleControl(client, data, &active, &owned)
			if terminate {
				return
			}

		case websocket.BinaryMessage:
			h.metrics.RecordWSMessage("in", "chunk")
			if !h.handleChunk(ctx, client, active, data) {
				return
			}
		}
	}
}

// handleControl processes one client control frame. It returns true when the
// connection should terminate. Malformed or state-invalid messages produce a
// protocol error reply and leave the connection open.
func (h *LiveHandler) handleControl(client *liveConn, data []byte,
	active **session.Session, owned *[]*session.Session) bool {

	msg, err := protocol.ParseControl(data)
	if err != nil {
		client.sendError(protocol.ErrorProtocol, err.Error())
		return false
	}

	h.metrics.RecordWSMessage("in", msg.Type)

	switch msg.Type {
	case protocol.ControlStart:
		if *active != nil {
			client.sendError(protocol.ErrorProtocol, "a session is already active on this connection")
			return false
		}

		language := msg.Language
		if language == "" {
			language = "en"
		}

		sess, err := h.registry.Create(language, msg.HighDetailMode)
		if err != nil {
			if errors.Is(err, session.ErrTooManySessions) {
				client.sendError(protocol.ErrorResource, err.Error())
			} else {
				client.sendError(protocol.ErrorConnection, err.Error())
			}
			return false
		}

		*active = sess
		*owned = append(*owned, sess)
		// A lost session_start means the client never learned the id, so
		// there is nothing useful left to do on this connection.
		if err := client.send(protocol.MessageSessionStart, protocol.NewSessionStart(sess.ID)); err != nil {
			return true
		}

	case protocol.ControlStop:
		if *active == nil {
			client.sendError(protocol.ErrorProtocol, "no active session to stop")
			return false
		}

		sess := *active
		stats := sess.Stats()

		// The session stays in the registry for save/discard or a later
		// start on this connection; it is not disconnected.
		*active = nil

		if err := client.send(protocol.MessageSessionEnd,
			protocol.NewSessionEnd(sess.ID, stats.SegmentCount, stats.TotalDuration)); err != nil {
			return true
		}

	case protocol.ControlPing:
		if err := client.send(protocol.MessagePong, protocol.NewPong()); err != nil {
			return true
		}

	case protocol.ControlDisconnect:
		return true
	}

	return false
}

// handleChunk runs one binary chunk through the pipeline and streams every
// resulting segment back. Processing failures are reported and never close
// the connection; only a write failure (client gone) returns false.
func (h *LiveHandler) handleChunk(ctx context.Context, client *liveConn, active *session.Session, chunk []byte) bool {
	if active == nil {
		client.sendError(protocol.ErrorNoSession, "received audio chunk with no active session")
		return true
	}

	var sendErr error
	err := h.processor.ProcessChunk(ctx, active, chunk, func(seg engine.Segment, chunkIndex int) {
		if sendErr != nil {
			return
		}
		sendErr = client.send(protocol.MessageTranscript, protocol.TranscriptMessage{
			Type:       protocol.MessageTranscript,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			ChunkIndex: chunkIndex,
			Speaker:    seg.Speaker,
			Confidence: seg.Confidence,
			Words:      toProtocolWords(seg.Words),
		})
	})

	if err != nil {
		var chunkErr *session.ChunkError
		if errors.As(err, &chunkErr) {
			client.sendError(chunkErr.Type, chunkErr.Err.Error())
		} else {
			client.sendError(protocol.ErrorConnection, err.Error())
		}
	}

	return sendErr == nil
}

func toProtocolWords(words []engine.Word) []protocol.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]protocol.Word, len(words))
	for i, w := range words {
		out[i] = protocol.Word{Word: w.Word, Start: w.Start, End: w.End}
	}
	return out
}
