package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jenanos/scribe-service/internal/config"
	"github.com/jenanos/scribe-service/internal/jobs"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/pipeline"
	"github.com/jenanos/scribe-service/internal/rewrite"
	"github.com/jenanos/scribe-service/internal/transcription"
)

// echoExecutor returns the uploaded bytes as the raw transcript and removes
// the upload the way the real runner does
type echoExecutor struct {
	mu   sync.Mutex
	seen []pipeline.Request
	err  error
}

func (e *echoExecutor) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	e.mu.Lock()
	e.seen = append(e.seen, req)
	e.mu.Unlock()

	data, readErr := os.ReadFile(req.InputPath)
	os.Remove(req.InputPath)
	if e.err != nil {
		return nil, e.err
	}
	if readErr != nil {
		return nil, readErr
	}

	result := &pipeline.Result{Raw: string(data), Segments: 1}
	if req.Rewrite {
		clean := "[" + req.Mode.String() + "] " + string(data)
		result.Clean = &clean
	}
	return result, nil
}

func (e *echoExecutor) requests() []pipeline.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pipeline.Request(nil), e.seen...)
}

type staticStats struct{}

func (staticStats) GetStats() pipeline.RunnerStats {
	return pipeline.RunnerStats{
		TotalRuns: 7,
		ASRLoaded: true,
		ASRClient: &transcription.ClientStats{TotalRequests: 12, SuccessRequests: 11, TotalRetries: 2},
	}
}

type testEnv struct {
	server   *HTTPServer
	handler  http.Handler
	registry *jobs.Registry
	exec     *echoExecutor
	tempDir  string
}

func newTestEnv(t *testing.T, mutate func(*config.Config), start bool) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.TempDir = t.TempDir()
	cfg.ASR.APIKey = "asr-secret"
	cfg.Rewrite.APIKey = "rewrite-secret"
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	exec := &echoExecutor{}
	registry := jobs.NewRegistry(exec, jobs.Config{
		QueueCapacity: cfg.Jobs.QueueCapacity,
		Logger:        logger,
		Metrics:       m,
	})
	if start {
		registry.Start()
	}
	t.Cleanup(func() { registry.Stop(context.Background()) })

	srv := NewHTTPServer(cfg, logger, registry, staticStats{}, m, reg)
	return &testEnv{
		server:   srv,
		handler:  srv.Handler(),
		registry: registry,
		exec:     exec,
		tempDir:  cfg.Audio.TempDir,
	}
}

func uploadRequest(t *testing.T, path string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if content != nil {
		part, err := writer.CreateFormFile("file", "memo.m4a")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// tryDecode is decode for use inside Eventually conditions
func tryDecode(rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		return nil
	}
	return body
}

func requireNoUploads(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProcessReturnsResult(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(uploadRequest(t, "/process", []byte("hello"), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	require.Equal(t, "hello", body["raw"])
	require.Equal(t, "[summary] hello", body["clean"])

	reqs := env.exec.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, rewrite.ModeSummary, reqs[0].Mode)
	require.True(t, reqs[0].Rewrite)
	require.True(t, strings.HasSuffix(reqs[0].InputPath, ".m4a"))
	requireNoUploads(t, env.tempDir)
}

func TestProcessWithoutRewriteHasNullClean(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(uploadRequest(t, "/process", []byte("plain"), map[string]string{"rewrite": "false", "mode": "email"}))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "plain", body["raw"])
	require.Contains(t, body, "clean")
	require.Nil(t, body["clean"])
}

func TestProcessRewriteFlagSpellings(t *testing.T) {
	tests := []struct {
		value   string
		rewrite bool
	}{
		{"true", true},
		{"yes", true},
		{"on", true},
		{"1", true},
		{"Y", true},
		{"false", false},
		{"no", false},
		{"OFF", false},
		{"0", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			env := newTestEnv(t, nil, true)

			rec := env.do(uploadRequest(t, "/process", []byte("words"), map[string]string{"rewrite": tt.value}))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			reqs := env.exec.requests()
			require.Len(t, reqs, 1)
			require.Equal(t, tt.rewrite, reqs[0].Rewrite)
		})
	}
}

func TestProcessStageFailure(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.exec.err = &pipeline.StageError{Stage: pipeline.StageDecode, Err: errors.New("ffmpeg not found")}

	rec := env.do(uploadRequest(t, "/process", []byte("x"), nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "decode", body["stage"])
	require.Contains(t, body["error"], "ffmpeg not found")
	requireNoUploads(t, env.tempDir)
}

func TestSubmitAndPollJob(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(uploadRequest(t, "/jobs", []byte("async words"), map[string]string{"mode": "polish"}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "queued", body["status"])
	id, ok := body["job_id"].(string)
	require.True(t, ok)

	var final map[string]interface{}
	require.Eventually(t, func() bool {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		final = tryDecode(rec)
		return final["status"] == "done"
	}, 2*time.Second, 5*time.Millisecond)

	result, ok := final["result"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "async words", result["raw"])
	require.Equal(t, "[polish] async words", result["clean"])
}

func TestQueuedJobReportsQueued(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(uploadRequest(t, "/jobs", []byte("waiting"), nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode(t, rec)["job_id"].(string)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "queued", body["status"])
	require.NotContains(t, body, "result")
}

func TestFailedJobReturnsServerError(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.exec.err = &pipeline.StageError{Stage: pipeline.StageASR, Err: errors.New("no GPU")}

	rec := env.do(uploadRequest(t, "/jobs", []byte("x"), nil))
	id := decode(t, rec)["job_id"].(string)

	require.Eventually(t, func() bool {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		if rec.Code != http.StatusInternalServerError {
			return false
		}
		body := tryDecode(rec)
		msg, _ := body["error"].(string)
		return body["status"] == "error" && strings.Contains(msg, "no GPU")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "job not found", decode(t, rec)["error"])
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		fields  map[string]string
		mutate  func(*config.Config)
		status  int
	}{
		{"missing file", nil, map[string]string{"mode": "summary"}, nil, http.StatusBadRequest},
		{"bad rewrite flag", []byte("x"), map[string]string{"rewrite": "maybe"}, nil, http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte("a"), 2<<20), nil, func(c *config.Config) { c.HTTP.MaxUploadMB = 1 }, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mutate, true)

			rec := env.do(uploadRequest(t, "/jobs", tt.content, tt.fields))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			requireNoUploads(t, env.tempDir)
			require.Empty(t, env.exec.requests())
		})
	}
}

func TestNotMultipart(t *testing.T) {
	env := newTestEnv(t, nil, true)

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestQueueFullReturnsUnavailable(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Jobs.QueueCapacity = 1 }, false)

	require.Equal(t, http.StatusAccepted, env.do(uploadRequest(t, "/jobs", []byte("one"), nil)).Code)

	rec := env.do(uploadRequest(t, "/jobs", []byte("two"), nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Only the accepted upload remains on disk
	entries, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSubmitRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.HTTP.SubmitRate = 0.001
		c.HTTP.SubmitBurst = 1
	}, true)

	require.Equal(t, http.StatusAccepted, env.do(uploadRequest(t, "/jobs", []byte("one"), nil)).Code)

	rec := env.do(uploadRequest(t, "/jobs", []byte("two"), nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, true)

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := env.do(req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, true)

	for _, path := range []string{"/", "/health", "/config", "/stats", "/metrics"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/config", nil))
	require.NotContains(t, rec.Body.String(), "asr-secret")
	require.NotContains(t, rec.Body.String(), "rewrite-secret")
	require.Contains(t, rec.Body.String(), `"api_key_set":true`)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Contains(t, rec.Body.String(), `"total_runs":7`)
	require.Contains(t, rec.Body.String(), `"asr_client":{"total_requests":12,"success_requests":11`)
	require.NotContains(t, rec.Body.String(), `"rewrite_client"`)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Contains(t, rec.Body.String(), `"total_retries":2`)

	// Requests above were recorded
	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `scribe_http_requests_total{endpoint="/health",method="GET",status_code="200"}`)
}

func TestRoutingErrors(t *testing.T) {
	env := newTestEnv(t, nil, true)

	require.Equal(t, http.StatusMethodNotAllowed, env.do(httptest.NewRequest(http.MethodGet, "/process", nil)).Code)
	require.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil)).Code)
}
