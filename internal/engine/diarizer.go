package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPDiarizer is a Diarizer backed by an HTTP diarization server. It has no
// retry loop: diarization failures are non-fatal to the pipeline, so one
// attempt per chunk is enough.
type HTTPDiarizer struct {
	config     ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}
}

// NewHTTPDiarizer creates a diarization client for the given endpoint.
func NewHTTPDiarizer(config ClientConfig) (*HTTPDiarizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	return &HTTPDiarizer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Diarize sends the chunk and its transcribed segments for speaker labeling.
func (c *HTTPDiarizer) Diarize(ctx context.Context, path string, segments []Segment) (*DiarizationResult, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, NewError(KindTemporary, "diarize", ctx.Err())
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(KindTemporary, "diarize", fmt.Errorf("read audio file: %w", err))
	}

	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, NewError(KindTranscription, "diarize", fmt.Errorf("marshal segments: %w", err))
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, NewError(KindTranscription, "diarize", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, NewError(KindTranscription, "diarize", err)
	}
	if err := writer.WriteField("segments", string(segmentsJSON)); err != nil {
		return nil, NewError(KindTranscription, "diarize", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewError(KindTranscription, "diarize", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/diarize", &buf)
	if err != nil {
		return nil, NewError(KindTranscription, "diarize", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(KindTemporary, "diarize", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTemporary, "diarize", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError("diarize", resp.StatusCode, respBody)
	}

	var result DiarizationResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, NewError(KindTranscription, "diarize", fmt.Errorf("parse response: %w", err))
	}

	return &result, nil
}
