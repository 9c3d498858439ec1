package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeTestChunk(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.audio")
	if err := os.WriteFile(path, []byte("fake audio data"), 0o644); err != nil {
		t.Fatalf("Failed to write test chunk: %v", err)
	}
	return path
}

func TestNewHTTPTranscriber(t *testing.T) {
	tests := []struct {
		name        string
		config      ClientConfig
		expectError bool
	}{
		{
			name: "valid config",
			config: ClientConfig{
				Endpoint:      "http://localhost:8081",
				Timeout:       10 * time.Second,
				MaxRetries:    2,
				MaxConcurrent: 4,
			},
		},
		{
			name:        "empty endpoint",
			config:      ClientConfig{},
			expectError: true,
		},
		{
			name: "defaults applied",
			config: ClientConfig{
				Endpoint: "http://localhost:8081",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewHTTPTranscriber(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("Expected path /transcribe, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if lang := r.FormValue("language"); lang != "uk" {
			t.Errorf("Expected language uk, got %s", lang)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("Expected audio file in form: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"segments": [{"start": 0.2, "end": 1.1, "text": "hello", "confidence": 0.9}], "language": "uk"}`)
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	result, err := client.Transcribe(context.Background(), writeTestChunk(t), TranscribeOptions{Language: "uk"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(result.Segments))
	}
	if result.Segments[0].Text != "hello" {
		t.Errorf("Expected text 'hello', got %q", result.Segments[0].Text)
	}
	if result.Language != "uk" {
		t.Errorf("Expected language uk, got %s", result.Language)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1/1 requests, got %d/%d", stats.TotalRequests, stats.SuccessRequests)
	}
}

func TestTranscribeRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"segments": [], "language": "en"}`)
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), writeTestChunk(t), TranscribeOptions{}); err != nil {
		t.Fatalf("Expected retries to succeed, got error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}

	stats := client.GetStats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
}

func TestTranscribeDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "unsupported codec"}`)
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Transcribe(context.Background(), writeTestChunk(t), TranscribeOptions{})
	if err == nil {
		t.Fatal("Expected error, got none")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 attempt for non-temporary failure, got %d", calls.Load())
	}
	if KindOf(err) != KindTranscription {
		t.Errorf("Expected transcription kind, got %s", KindOf(err))
	}
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected ErrorKind
	}{
		{
			name:     "structured kind wins",
			status:   http.StatusInternalServerError,
			body:     `{"error": "GPU OOM", "kind": "resource"}`,
			expected: KindResource,
		},
		{
			name:     "structured unavailable",
			status:   http.StatusBadGateway,
			body:     `{"error": "model loading", "kind": "unavailable"}`,
			expected: KindUnavailable,
		},
		{
			name:     "503 maps to unavailable",
			status:   http.StatusServiceUnavailable,
			body:     "no body",
			expected: KindUnavailable,
		},
		{
			name:     "507 maps to resource",
			status:   http.StatusInsufficientStorage,
			body:     "",
			expected: KindResource,
		},
		{
			name:     "429 maps to temporary",
			status:   http.StatusTooManyRequests,
			body:     "",
			expected: KindTemporary,
		},
		{
			name:     "500 maps to temporary",
			status:   http.StatusInternalServerError,
			body:     "oops",
			expected: KindTemporary,
		},
		{
			name:     "400 maps to transcription",
			status:   http.StatusBadRequest,
			body:     "bad codec",
			expected: KindTranscription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPError("transcribe", tt.status, []byte(tt.body))
			if err.Kind != tt.expected {
				t.Errorf("Expected kind %s, got %s", tt.expected, err.Kind)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{
			name:     "engine error",
			err:      NewError(KindResource, "transcribe", errors.New("OOM")),
			expected: KindResource,
		},
		{
			name:     "wrapped engine error",
			err:      fmt.Errorf("pipeline: %w", NewError(KindUnavailable, "transcribe", errors.New("down"))),
			expected: KindUnavailable,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: KindTemporary,
		},
		{
			name:     "plain error",
			err:      errors.New("something"),
			expected: KindTranscription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("KindOf() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected path /health, got %s", r.URL.Path)
		}
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if !client.Available(context.Background()) {
		t.Error("Expected engine to be available")
	}

	// The result is cached, so flipping the server does not change the
	// answer within the cache period.
	healthy.Store(false)
	if !client.Available(context.Background()) {
		t.Error("Expected cached availability to remain true")
	}
}

func TestAvailableCoalescesConcurrentProbes(t *testing.T) {
	var probes atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	// All callers arrive with a cold cache; one probes, the rest reuse its
	// result.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !client.Available(context.Background()) {
				t.Error("Expected engine to be available")
			}
		}()
	}
	wg.Wait()

	if got := probes.Load(); got != 1 {
		t.Errorf("Expected 1 health probe, got %d", got)
	}
}

func TestAvailableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewHTTPTranscriber(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.Available(context.Background()) {
		t.Error("Expected engine to be unavailable")
	}
}

func TestDiarizeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" {
			t.Errorf("Expected path /diarize, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if r.FormValue("segments") == "" {
			t.Error("Expected segments field in form")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"segments": [{"start": 0, "end": 1, "text": "hi", "speaker": "SPEAKER_00"}], "speakers": ["SPEAKER_00"]}`)
	}))
	defer server.Close()

	client, err := NewHTTPDiarizer(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create diarizer: %v", err)
	}

	result, err := client.Diarize(context.Background(), writeTestChunk(t),
		[]Segment{{Start: 0, End: 1, Text: "hi"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Speakers) != 1 || result.Speakers[0] != "SPEAKER_00" {
		t.Errorf("Expected speakers [SPEAKER_00], got %v", result.Speakers)
	}
	if result.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("Expected segment speaker SPEAKER_00, got %q", result.Segments[0].Speaker)
	}
}
