package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ClientConfig contains configuration for the HTTP engine clients.
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// ClientStats reports request counters for one client.
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

// HTTPTranscriber is a Transcriber backed by a whisper-style HTTP inference
// server. Concurrency is bounded by a semaphore so at most MaxConcurrent
// inference calls are in flight across all sessions.
type HTTPTranscriber struct {
	config     ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}

	// Availability cache. probeMu serializes probes so concurrent callers
	// past an expired cache coalesce into one health request.
	probeMu     sync.Mutex
	availableAt time.Time
	available   bool

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

const availabilityCachePeriod = 10 * time.Second

// NewHTTPTranscriber creates a transcription client for the given endpoint.
func NewHTTPTranscriber(config ClientConfig) (*HTTPTranscriber, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	return &HTTPTranscriber{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Available reports whether the inference server answers its health probe.
// Results are cached briefly so every new connection does not probe.
func (c *HTTPTranscriber) Available(ctx context.Context) bool {
	if ok, fresh := c.cachedAvailability(); fresh {
		return ok
	}

	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	// Another caller may have refreshed the cache while we waited.
	if ok, fresh := c.cachedAvailability(); fresh {
		return ok
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	c.mu.Lock()
	c.available = ok
	c.availableAt = time.Now()
	c.mu.Unlock()

	return ok
}

func (c *HTTPTranscriber) cachedAvailability() (ok, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available, time.Since(c.availableAt) < availabilityCachePeriod
}

// Transcribe sends the audio file for inference, retrying temporary failures
// with exponential backoff.
func (c *HTTPTranscriber) Transcribe(ctx context.Context, path string, opts TranscribeOptions) (*Result, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, NewError(KindTemporary, "transcribe", ctx.Err())
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordFailure()
				return nil, NewError(KindTemporary, "transcribe", ctx.Err())
			}
		}

		result, err := c.doTranscribe(ctx, path, opts)
		if err == nil {
			c.mu.Lock()
			c.successRequests++
			c.mu.Unlock()
			return result, nil
		}

		lastErr = err
		if KindOf(err) != KindTemporary {
			break
		}
	}

	c.recordFailure()
	return nil, lastErr
}

func (c *HTTPTranscriber) recordFailure() {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
}

func (c *HTTPTranscriber) doTranscribe(ctx context.Context, path string, opts TranscribeOptions) (*Result, error) {
	body, contentType, err := c.buildRequestBody(path, opts)
	if err != nil {
		return nil, NewError(KindTemporary, "transcribe", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/transcribe", body)
	if err != nil {
		return nil, NewError(KindTranscription, "transcribe", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and deadline expiry are both transient.
		return nil, NewError(KindTemporary, "transcribe", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTemporary, "transcribe", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError("transcribe", resp.StatusCode, respBody)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, NewError(KindTranscription, "transcribe", fmt.Errorf("parse response: %w", err))
	}

	return &result, nil
}

func (c *HTTPTranscriber) buildRequestBody(path string, opts TranscribeOptions) (io.Reader, string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	if opts.WordTimestamps {
		fields["word_timestamps"] = "true"
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// GetStats returns current client statistics.
func (c *HTTPTranscriber) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		ActiveRequests:  len(c.semaphore),
	}
}

// errorResponse is the structured error body engine servers return.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classifyHTTPError maps an HTTP failure to a structured engine error. The
// server's own kind field wins when present; otherwise the status code
// decides.
func classifyHTTPError(op string, status int, body []byte) *Error {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Kind != "" {
		kind := KindTranscription
		switch er.Kind {
		case "unavailable":
			kind = KindUnavailable
		case "resource":
			kind = KindResource
		case "temporary":
			kind = KindTemporary
		}
		return NewError(kind, op, fmt.Errorf("HTTP %d: %s", status, er.Error))
	}

	err := fmt.Errorf("HTTP %d: %s", status, string(body))
	switch {
	case status == http.StatusServiceUnavailable:
		return NewError(KindUnavailable, op, err)
	case status == http.StatusInsufficientStorage:
		return NewError(KindResource, op, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewError(KindTemporary, op, err)
	default:
		return NewError(KindTranscription, op, err)
	}
}
