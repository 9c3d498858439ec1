package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/live-transcription-service/internal/config"
	"github.com/skypro1111/live-transcription-service/internal/engine"
	"github.com/skypro1111/live-transcription-service/internal/metrics"
	"github.com/skypro1111/live-transcription-service/internal/server"
	"github.com/skypro1111/live-transcription-service/internal/session"
	"github.com/skypro1111/live-transcription-service/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-transcription-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.Float64("chunk_interval_seconds", cfg.Session.ChunkIntervalSeconds),
		slog.Int("session_ttl_seconds", cfg.Session.TTLSeconds),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("diarization_enabled", cfg.Diarization.Enabled),
		slog.String("database_path", cfg.Storage.DatabasePath),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Open durable recording storage
	recordingStore, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("Failed to open recording store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer recordingStore.Close()
	logger.Info("Recording store opened", slog.String("path", cfg.Storage.DatabasePath))

	// Initialize transcription engine client
	transcriber, err := engine.NewHTTPTranscriber(engine.ClientConfig{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize diarization engine client (if enabled)
	var diarizer engine.Diarizer
	if cfg.Diarization.Enabled {
		httpDiarizer, err := engine.NewHTTPDiarizer(engine.ClientConfig{
			Endpoint:      cfg.Diarization.Endpoint,
			APIKey:        cfg.Diarization.APIKey,
			Timeout:       cfg.Diarization.GetTimeoutDuration(),
			MaxConcurrent: cfg.Diarization.MaxConcurrent,
		})
		if err != nil {
			logger.Error("Failed to create diarization client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		diarizer = httpDiarizer
		logger.Info("Diarization client initialized",
			slog.String("endpoint", cfg.Diarization.Endpoint))
	}

	// Initialize session registry
	registry := session.NewRegistry(cfg.Session.GetTTLDuration(), cfg.Session.MaxSessions, logger, appMetrics)
	logger.Info("Session registry initialized",
		slog.Duration("session_ttl", cfg.Session.GetTTLDuration()),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
	)

	// Initialize chunk processor
	processor := session.NewProcessor(transcriber, diarizer, session.ProcessorConfig{
		ChunkIntervalSeconds: cfg.Session.ChunkIntervalSeconds,
		ChunkTimeout:         cfg.Transcription.GetTimeoutDuration(),
		TempDir:              cfg.Storage.TempDir,
	}, logger, appMetrics)

	// Initialize persistence bridge
	bridge := session.NewBridge(registry, recordingStore, cfg.Storage.AudioDir, logger, appMetrics)

	// Initialize live WebSocket handler
	liveHandler := server.NewLiveHandler(registry, processor, transcriber, logger, appMetrics)

	// Initialize HTTP server
	httpServer := server.NewServer(server.ServerConfig{
		Address:      cfg.Server.Address,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.GetReadTimeoutDuration(),
		WriteTimeout: cfg.Server.GetWriteTimeoutDuration(),
	}, registry, bridge, liveHandler, transcriber, logger, appMetrics)

	// Start HTTP server
	httpServer.Start()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests, close live connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Report any sessions that were still held in memory
	remaining := registry.Count()
	if remaining > 0 {
		logger.Warn("Shutting down with unsaved sessions", slog.Int("count", remaining))
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
