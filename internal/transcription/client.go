package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNoSegments is returned when Transcribe is called with an empty segment list.
var ErrNoSegments = errors.New("no segments to transcribe")

// Recognizer is the speech recognition collaborator. Transcribe returns exactly
// one text per segment path, in input order. Release frees whatever device
// memory the backend holds for the model; the recognizer stays usable.
type Recognizer interface {
	Name() string
	Transcribe(ctx context.Context, segmentPaths []string) ([]string, error)
	Release(ctx context.Context) error
}

// Client provides HTTP client functionality for a speech recognition backend
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint        string
	ReleaseEndpoint string
	APIKey          string
	Model           string
	Language        string
	Timeout         time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
}

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

type segmentResponse struct {
	Text string `json:"text"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Name returns the backend identifier for logs
func (c *Client) Name() string {
	if c.config.Model != "" {
		return "http:" + c.config.Model
	}
	return "http"
}

// Transcribe sends each segment to the backend in order and returns the texts
// in the same order. The first segment that fails after retries aborts the call.
func (c *Client) Transcribe(ctx context.Context, segmentPaths []string) ([]string, error) {
	if len(segmentPaths) == 0 {
		return nil, ErrNoSegments
	}

	texts := make([]string, 0, len(segmentPaths))
	for i, path := range segmentPaths {
		text, err := c.transcribeSegment(ctx, i, path)
		if err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w", i, filepath.Base(path), err)
		}
		texts = append(texts, text)
	}

	return texts, nil
}

// transcribeSegment runs one segment through the retry loop
func (c *Client) transcribeSegment(ctx context.Context, index int, path string) (string, error) {
	audioData, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read segment: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.BackoffBase
	policy.MaxInterval = 30 * time.Second

	text, err := backoff.Retry(ctx, func() (string, error) {
		text, err := c.doRequest(ctx, index, filepath.Base(path), audioData)
		if err != nil && !isRetryable(ctx, err) {
			return "", backoff.Permanent(err)
		}
		return text, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithNotify(func(error, time.Duration) { c.incrementTotalRetries() }),
	)
	if err != nil {
		c.incrementFailedRequests()
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return text, nil
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, index int, filename string, audioData []byte) (string, error) {
	body, contentType, err := c.createMultipartRequest(index, filename, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "scribe-service/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed segmentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(index int, filename string, audioData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"segment_index": strconv.Itoa(index),
		"task":          "transcribe",
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Release asks the backend to unload the model from device memory when a
// release endpoint is configured, and drops pooled connections either way.
func (c *Client) Release(ctx context.Context) error {
	defer c.httpClient.CloseIdleConnections()

	if c.config.ReleaseEndpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ReleaseEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create release request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: "release rejected"}
	}
	return nil
}

// isRetryable determines if an error is retryable
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	// Transport failures (refused, reset, timeout) are retryable; decoding is not
	return strings.HasPrefix(err.Error(), "HTTP request failed")
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
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
		AvgResponseTime: c.avgResponseTime,
	}
}
