package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/jenanos/scribe-service/internal/config"
	"github.com/jenanos/scribe-service/internal/jobs"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/pipeline"
	"github.com/jenanos/scribe-service/internal/rewrite"
)

const (
	serviceName    = "scribe-service"
	serviceVersion = "1.0.0"

	// maxFieldBytes bounds non-file form fields
	maxFieldBytes = 1024
)

// JobService is the job registry as seen by the HTTP layer
type JobService interface {
	Submit(req pipeline.Request) (string, error)
	Do(ctx context.Context, req pipeline.Request) (string, *pipeline.Result, error)
	Get(id string) (jobs.Snapshot, error)
	GetStats() jobs.Stats
}

// PipelineStats reports runner statistics
type PipelineStats interface {
	GetStats() pipeline.RunnerStats
}

// HTTPServer provides the transcription API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	jobs     JobService
	pipeline PipelineStats
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer backs /metrics.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, jobService JobService,
	pipelineStats PipelineStats, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		jobs:      jobService,
		pipeline:  pipelineStats,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	if appConfig.HTTP.SubmitRate > 0 {
		burst := appConfig.HTTP.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(appConfig.HTTP.SubmitRate), burst)
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.handler = h.withCORS(otelhttp.NewHandler(mux, "http.server"))

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       appConfig.HTTP.GetReadTimeout(),
		WriteTimeout:      appConfig.HTTP.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the fully wrapped handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Pipeline endpoints
	mux.HandleFunc("POST /process", h.withMetrics("/process", h.withRateLimit(h.handleProcess)))
	mux.HandleFunc("POST /jobs", h.withMetrics("/jobs", h.withRateLimit(h.handleSubmitJob)))
	mux.HandleFunc("GET /jobs/{id}", h.withMetrics("/jobs/{id}", h.handleGetJob))

	// Monitoring endpoints
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withRateLimit rejects uploads beyond the configured submission rate before
// any body bytes are read
func (h *HTTPServer) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many submissions")
			return
		}
		handler(w, r)
	}
}

// withCORS answers preflight requests and tags responses for allowed origins
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(h.config.HTTP.CORSOrigins))
	for _, origin := range h.config.HTTP.CORSOrigins {
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleProcess implements POST /process: the upload runs on the job worker
// and the response carries its result
func (h *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, status, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	id, result, err := h.jobs.Do(r.Context(), req)
	if err != nil {
		h.writeJobError(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSubmitJob implements POST /jobs
func (h *HTTPServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	req, status, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	id, err := h.jobs.Submit(req)
	if err != nil {
		h.writeJobError(w, r, "", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": id,
		"status": jobs.StatusQueued,
	})
}

// handleGetJob implements GET /jobs/{id}
func (h *HTTPServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if snap.Status == jobs.StatusError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, snap)
}

func (h *HTTPServer) writeJobError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Client went away; the job keeps running
		h.logger.Info("Client stopped waiting for job",
			slog.String("job_id", id),
			slog.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		body := map[string]interface{}{"error": err.Error()}
		if stage, ok := pipeline.FailedStage(err); ok {
			body["stage"] = stage
		}
		if id != "" {
			body["job_id"] = id
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// readUpload streams the multipart body to a temporary file and parses the
// mode and rewrite fields. On error no file is left behind and the returned
// status is the one to answer with.
func (h *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Request, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())

	reader, err := r.MultipartReader()
	if err != nil {
		return pipeline.Request{}, http.StatusBadRequest, fmt.Errorf("expected multipart form: %w", err)
	}

	req := pipeline.Request{Mode: rewrite.DefaultMode, Rewrite: true}
	fail := func(status int, err error) (pipeline.Request, int, error) {
		if req.InputPath != "" {
			os.Remove(req.InputPath)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Request{}, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return pipeline.Request{}, status, err
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(http.StatusBadRequest, err)
		}

		switch part.FormName() {
		case "file":
			if req.InputPath != "" {
				part.Close()
				return fail(http.StatusBadRequest, errors.New("only one file may be uploaded"))
			}
			path, err := h.saveUpload(part)
			part.Close()
			if err != nil {
				return fail(http.StatusInternalServerError, err)
			}
			req.InputPath = path

		case "mode":
			value, err := readField(part)
			if err != nil {
				return fail(http.StatusBadRequest, err)
			}
			mode, known := rewrite.ParseMode(value)
			if !known {
				h.logger.Warn("Unknown rewrite mode requested", slog.String("mode", value))
			}
			req.Mode = mode

		case "rewrite":
			value, err := readField(part)
			if err != nil {
				return fail(http.StatusBadRequest, err)
			}
			if value != "" {
				enabled, err := parseFormBool(value)
				if err != nil {
					return fail(http.StatusBadRequest, fmt.Errorf("invalid rewrite flag %q", value))
				}
				req.Rewrite = enabled
			}

		default:
			io.Copy(io.Discard, part)
			part.Close()
		}
	}

	if req.InputPath == "" {
		return fail(http.StatusBadRequest, errors.New("missing file field"))
	}
	return req, 0, nil
}

// saveUpload copies an uploaded file part to temporary storage, keeping the
// original extension as a hint for the decoder
func (h *HTTPServer) saveUpload(part *multipart.Part) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(part.FileName())))
	if len(ext) > 10 {
		ext = ""
	}

	f, err := os.CreateTemp(h.config.Audio.TempDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	n, copyErr := io.Copy(f, part)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(f.Name())
		if copyErr != nil {
			return "", copyErr
		}
		return "", fmt.Errorf("failed to write upload: %w", closeErr)
	}

	h.logger.Debug("Upload stored",
		slog.String("path", f.Name()),
		slog.Int64("bytes", n))
	return f.Name(), nil
}

func readField(part *multipart.Part) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", fmt.Errorf("field %s is too long", part.FormName())
	}
	return strings.TrimSpace(string(data)), nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	jobStats := h.jobs.GetStats()
	runnerStats := h.pipeline.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"jobs": map[string]interface{}{
				"status":      "running",
				"queued":      jobStats.Queued,
				"running":     jobStats.Running,
				"queue_depth": jobStats.QueueDepth,
			},
			"pipeline": map[string]interface{}{
				"status":         "running",
				"asr_loaded":     runnerStats.ASRLoaded,
				"rewrite_loaded": runnerStats.LLMLoaded,
				"dev_stub":       h.config.DevStub,
			},
		},
	}

	components := health["components"].(map[string]interface{})
	if c := runnerStats.ASRClient; c != nil {
		components["asr"] = map[string]interface{}{
			"endpoint":      h.config.ASR.Endpoint,
			"success_rate":  c.SuccessRate,
			"total_retries": c.TotalRetries,
		}
	}
	if c := runnerStats.RewriteClient; c != nil {
		components["rewrite"] = map[string]interface{}{
			"endpoint":      h.config.Rewrite.Endpoint,
			"success_rate":  c.SuccessRate,
			"total_retries": c.TotalRetries,
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// API keys are reported only as present or absent
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"address":       h.config.HTTP.Address,
			"port":          h.config.HTTP.Port,
			"max_upload_mb": h.config.HTTP.MaxUploadMB,
			"cors_origins":  h.config.HTTP.CORSOrigins,
			"submit_rate":   h.config.HTTP.SubmitRate,
		},
		"audio": map[string]interface{}{
			"ffmpeg_path":    h.config.Audio.FFmpegPath,
			"sample_rate":    h.config.Audio.SampleRate,
			"segment_length": h.config.Audio.SegmentLength,
		},
		"asr": map[string]interface{}{
			"endpoint":    h.config.ASR.Endpoint,
			"model":       h.config.ASR.Model,
			"language":    h.config.ASR.Language,
			"timeout":     h.config.ASR.Timeout,
			"max_retries": h.config.ASR.MaxRetries,
			"api_key_set": h.config.ASR.APIKey != "",
		},
		"rewrite": map[string]interface{}{
			"endpoint":    h.config.Rewrite.Endpoint,
			"model":       h.config.Rewrite.Model,
			"max_tokens":  h.config.Rewrite.MaxTokens,
			"temperature": h.config.Rewrite.Temperature,
			"timeout":     h.config.Rewrite.Timeout,
			"max_retries": h.config.Rewrite.MaxRetries,
			"api_key_set": h.config.Rewrite.APIKey != "",
			"modes":       rewrite.Modes(),
		},
		"jobs": map[string]interface{}{
			"retention":      h.config.Jobs.Retention,
			"sweep_interval": h.config.Jobs.SweepInterval,
			"queue_capacity": h.config.Jobs.QueueCapacity,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
		"dev_stub": h.config.DevStub,
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"jobs":      h.jobs.GetStats(),
		"pipeline":  h.pipeline.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Scribe Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":              "API documentation",
			"POST /process":      "Transcribe and rewrite an upload, waiting for the result",
			"POST /jobs":         "Queue an upload and return a job id",
			"GET /jobs/{job_id}": "Get job status and result",
			"GET /health":        "Service health check",
			"GET /config":        "Get service configuration",
			"GET /stats":         "Get service statistics",
			"GET /metrics":       "Prometheus metrics",
		},
		"modes":     rewrite.Modes(),
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// parseFormBool accepts the boolean spellings HTML forms and web clients send
func parseFormBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
