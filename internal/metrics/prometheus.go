package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the scribe service
type Metrics struct {
	// Job queue metrics
	JobsSubmitted prometheus.Counter
	JobsRejected  prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobsSwept     prometheus.Counter
	QueueSize     prometheus.Gauge
	JobsRunning   prometheus.Gauge
	JobWait       prometheus.Histogram

	// Pipeline metrics
	PipelineRuns    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	SegmentsPerRun  prometheus.Histogram
	AudioDuration   prometheus.Histogram
	ReleaseFailures *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Job queue metrics
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_jobs_submitted_total",
			Help: "Total number of jobs accepted onto the queue",
		}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_jobs_rejected_total",
			Help: "Total number of jobs rejected because the queue was full or closed",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"status"}),
		JobsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_jobs_swept_total",
			Help: "Total number of expired jobs removed from the registry",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_job_queue_size",
			Help: "Current number of jobs waiting for the worker",
		}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_jobs_running",
			Help: "Number of jobs currently executing (0 or 1)",
		}),
		JobWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_job_wait_seconds",
			Help:    "Time jobs spend queued before the worker picks them up",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45 minutes
		}),

		// Pipeline metrics
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7 minutes
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_stage_failures_total",
			Help: "Total number of pipeline runs aborted by each stage",
		}, []string{"stage"}),
		SegmentsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_segments_per_run",
			Help:    "Number of audio segments produced per run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 to 256
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_audio_duration_seconds",
			Help:    "Duration of normalized input audio",
			Buckets: prometheus.ExponentialBuckets(5, 2, 11), // 5s to ~85 minutes
		}),
		ReleaseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_release_failures_total",
			Help: "Total number of failed model memory release calls",
		}, []string{"collaborator"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobSubmitted increments the submitted counter
func (m *Metrics) RecordJobSubmitted() {
	m.JobsSubmitted.Inc()
}

// RecordJobRejected increments the rejected counter
func (m *Metrics) RecordJobRejected() {
	m.JobsRejected.Inc()
}

// RecordJobStarted marks a job as running and records how long it waited
func (m *Metrics) RecordJobStarted(waitSeconds float64) {
	m.JobsRunning.Inc()
	m.JobWait.Observe(waitSeconds)
}

// RecordJobFinished records a terminal status
func (m *Metrics) RecordJobFinished(status string) {
	m.JobsRunning.Dec()
	m.JobsFinished.WithLabelValues(status).Inc()
}

// RecordJobsSwept adds to the swept counter
func (m *Metrics) RecordJobsSwept(n int) {
	m.JobsSwept.Add(float64(n))
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordStage records how long a stage took
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordRunSuccess records a completed run
func (m *Metrics) RecordRunSuccess(segments int, audioSeconds float64) {
	m.PipelineRuns.WithLabelValues("success").Inc()
	m.SegmentsPerRun.Observe(float64(segments))
	m.AudioDuration.Observe(audioSeconds)
}

// RecordRunFailure records a run aborted by stage
func (m *Metrics) RecordRunFailure(stage string) {
	m.PipelineRuns.WithLabelValues("failure").Inc()
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordReleaseFailure records a failed release call
func (m *Metrics) RecordReleaseFailure(collaborator string) {
	m.ReleaseFailures.WithLabelValues(collaborator).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
