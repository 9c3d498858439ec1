package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/live-transcription-service/internal/engine"
	"github.com/skypro1111/live-transcription-service/internal/metrics"
	"github.com/skypro1111/live-transcription-service/internal/session"
)

// EngineStatser exposes engine client statistics for the health endpoint.
type EngineStatser interface {
	GetStats() engine.ClientStats
}

// Server hosts the REST API, the live WebSocket endpoint, and the Prometheus
// metrics endpoint on one listener.
type Server struct {
	server      *http.Server
	registry    *session.Registry
	bridge      *session.Bridge
	live        *LiveHandler
	engineStats EngineStatser
	logger      *slog.Logger
	metrics     *metrics.Metrics
	startTime   time.Time
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates the HTTP server with all routes mounted. engineStats may
// be nil when the transcriber implementation does not report statistics.
func NewServer(cfg ServerConfig, registry *session.Registry, bridge *session.Bridge,
	live *LiveHandler, engineStats EngineStatser, logger *slog.Logger, m *metrics.Metrics) *Server {

	s := &Server{
		registry:    registry,
		bridge:      bridge,
		live:        live,
		engineStats: engineStats,
		logger:      logger,
		metrics:     m,
		startTime:   time.Now(),
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/live/transcribe", s.live.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.withMetrics("/health", s.handleHealth))
		r.Get("/sessions", s.withMetrics("/sessions", s.handleListSessions))
		r.Post("/sessions/save", s.withMetrics("/sessions/save", s.handleSave))
		r.Post("/sessions/autosave", s.withMetrics("/sessions/autosave", s.handleAutosave))
		r.Delete("/sessions/{sessionID}", s.withMetrics("/sessions/{id}", s.handleDiscard))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("starting HTTP server", slog.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server...")
	return s.server.Shutdown(ctx)
}

// withMetrics wraps a handler with request metrics collection.
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		s.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// saveRequest is the body of POST /api/v1/sessions/save.
type saveRequest struct {
	SessionID   string   `json:"session_id"`
	Title       string   `json:"title"`
	SaveAudio   bool     `json:"save_audio"`
	ProjectID   string   `json:"project_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
}

// autosaveRequest is the body of POST /api/v1/sessions/autosave.
type autosaveRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	if req.Title == "" {
		req.Title = "Untitled Recording"
	}

	result, err := s.bridge.Save(r.Context(), req.SessionID, session.SaveRequest{
		Title:       req.Title,
		SaveAudio:   req.SaveAudio,
		ProjectID:   req.ProjectID,
		Tags:        req.Tags,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}

		s.logger.Error("save failed", slog.String("session_id", req.SessionID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "save failed, session retained for retry",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"recording_id":  result.RecordingID,
		"transcript_id": result.TranscriptID,
		"message":       result.Message,
	})
}

func (s *Server) handleAutosave(w http.ResponseWriter, r *http.Request) {
	var req autosaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	stats, err := s.bridge.AutosaveCheck(req.SessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"saved_segments": stats.SegmentCount,
		"total_duration": stats.TotalDuration,
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.bridge.Discard(sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %s discarded", sessionID),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.ListInfo()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"sessions": map[string]any{
			"active": s.registry.Count(),
		},
	}

	if s.engineStats != nil {
		health["transcription"] = s.engineStats.GetStats()
	}

	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
