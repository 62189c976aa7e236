package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/pipeline"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("job registry is closed")
)

const (
	DefaultRetention     = 30 * time.Minute
	DefaultQueueCapacity = 64
)

// Executor runs one pipeline request to completion
type Executor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Config contains registry configuration
type Config struct {
	Retention     time.Duration
	SweepInterval time.Duration // 0 disables the periodic sweeper
	QueueCapacity int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Registry tracks jobs and feeds them, in submission order, to a single
// worker. Terminal jobs are removed once they have been finished for longer
// than the retention window; every submit and poll sweeps, and an optional
// ticker sweeps in the background.
type Registry struct {
	executor Executor
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	jobs   map[string]*job
	queue  chan *job
	closed bool
	mu     sync.RWMutex

	// runCtx is handed to the executor; it is only cancelled when Stop gives up waiting
	runCtx    context.Context
	cancelRun context.CancelFunc
	stopSweep chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
	workerWG  sync.WaitGroup

	// Statistics
	submitted uint64
	rejected  uint64
	succeeded uint64
	failed    uint64
	swept     uint64
}

// Stats represents registry statistics
type Stats struct {
	Queued        int    `json:"queued"`
	Running       int    `json:"running"`
	Done          int    `json:"done"`
	Error         int    `json:"error"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Submitted     uint64 `json:"submitted"`
	Rejected      uint64 `json:"rejected"`
	Succeeded     uint64 `json:"succeeded"`
	Failed        uint64 `json:"failed"`
	Swept         uint64 `json:"swept"`
}

// NewRegistry creates a registry. Call Start to begin executing jobs.
func NewRegistry(executor Executor, config Config) *Registry {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	runCtx, cancelRun := context.WithCancel(context.Background())

	return &Registry{
		executor:  executor,
		config:    config,
		logger:    config.Logger,
		metrics:   config.Metrics,
		now:       config.Now,
		jobs:      make(map[string]*job),
		queue:     make(chan *job, config.QueueCapacity),
		runCtx:    runCtx,
		cancelRun: cancelRun,
		stopSweep: make(chan struct{}),
	}
}

// Start launches the worker and, when configured, the periodic sweeper
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.workerWG.Add(1)
		go r.worker()

		if r.config.SweepInterval > 0 {
			r.wg.Add(1)
			go r.sweepRoutine()
		}

		r.logger.Info("Job registry started",
			slog.Int("queue_capacity", r.config.QueueCapacity),
			slog.Duration("retention", r.config.Retention),
			slog.Duration("sweep_interval", r.config.SweepInterval),
		)
	})
}

// Submit queues req and returns the new job's identifier without waiting for
// it to run. Ownership of req.InputPath passes to the registry: if the job is
// rejected the file is removed here.
func (r *Registry) Submit(req pipeline.Request) (string, error) {
	j, err := r.enqueue(req)
	if err != nil {
		return "", err
	}
	return j.id, nil
}

// Do submits req and waits for it to finish. If ctx ends first, Do returns
// ctx.Err() and the job keeps running to completion.
func (r *Registry) Do(ctx context.Context, req pipeline.Request) (string, *pipeline.Result, error) {
	j, err := r.enqueue(req)
	if err != nil {
		return "", nil, err
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return j.id, nil, ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return j.id, j.result, j.err
}

func (r *Registry) enqueue(req pipeline.Request) (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	if r.closed {
		r.reject(req, ErrClosed)
		return nil, ErrClosed
	}

	j := &job{
		id:        uuid.NewString(),
		request:   req,
		createdAt: now,
		status:    StatusQueued,
		done:      make(chan struct{}),
	}

	select {
	case r.queue <- j:
	default:
		r.reject(req, ErrQueueFull)
		return nil, ErrQueueFull
	}

	r.jobs[j.id] = j
	r.submitted++
	if r.metrics != nil {
		r.metrics.RecordJobSubmitted()
		r.metrics.SetQueueSize(len(r.queue))
	}

	r.logger.Info("Job queued",
		slog.String("job_id", j.id),
		slog.String("mode", req.Mode.String()),
		slog.Bool("rewrite", req.Rewrite),
		slog.Int("queue_depth", len(r.queue)),
	)
	return j, nil
}

func (r *Registry) reject(req pipeline.Request, reason error) {
	r.rejected++
	if r.metrics != nil {
		r.metrics.RecordJobRejected()
	}
	discardInput(req, r.logger)
	r.logger.Warn("Job rejected", slog.String("reason", reason.Error()))
}

// Get returns a snapshot of the job with the given id
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(r.now())

	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.snapshot(), nil
}

// Sweep removes terminal jobs that finished more than the retention window
// before now and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, j := range r.jobs {
		if j.status.Terminal() && now.Sub(j.finishedAt) > r.config.Retention {
			delete(r.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		r.swept += uint64(removed)
		if r.metrics != nil {
			r.metrics.RecordJobsSwept(removed)
		}
		r.logger.Debug("Expired jobs swept",
			slog.Int("removed", removed),
			slog.Int("remaining", len(r.jobs)),
		)
	}
	return removed
}

// worker executes queued jobs one at a time until the queue is closed
func (r *Registry) worker() {
	defer r.workerWG.Done()

	r.logger.Debug("Job worker started")
	for j := range r.queue {
		r.execute(j)
	}
	r.logger.Debug("Job worker stopped")
}

func (r *Registry) execute(j *job) {
	r.mu.Lock()
	j.status = StatusRunning
	j.startedAt = r.now()
	wait := j.startedAt.Sub(j.createdAt)
	if r.metrics != nil {
		r.metrics.SetQueueSize(len(r.queue))
		r.metrics.RecordJobStarted(wait.Seconds())
	}
	r.mu.Unlock()

	logger := r.logger.With(slog.String("job_id", j.id))
	logger.Info("Job started", slog.Duration("waited", wait))

	result, err := r.runSafely(j.request, logger)

	r.mu.Lock()
	j.finishedAt = r.now()
	if err != nil {
		j.err = err
		j.status = StatusError
		r.failed++
	} else {
		j.result = result
		j.status = StatusDone
		r.succeeded++
	}
	elapsed := j.finishedAt.Sub(j.startedAt)
	status := j.status
	close(j.done)
	if r.metrics != nil {
		r.metrics.RecordJobFinished(string(status))
	}
	r.mu.Unlock()

	if err != nil {
		logger.Error("Job failed",
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		return
	}
	logger.Info("Job completed", slog.Duration("duration", elapsed))
}

// runSafely converts a panic inside the pipeline into a job error so the
// worker survives it.
func (r *Registry) runSafely(req pipeline.Request, logger *slog.Logger) (result *pipeline.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Pipeline panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = fmt.Errorf("pipeline panicked: %v", rec)
		}
	}()

	return r.executor.Run(r.runCtx, req)
}

// sweepRoutine runs in a separate goroutine to remove expired jobs
func (r *Registry) sweepRoutine() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Stop refuses new submissions, fails jobs that never started, and waits for
// the running job to finish. If ctx ends first the running job's context is
// cancelled and Stop returns ctx.Err().
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	abandoned := 0
	for {
		var j *job
		select {
		case j = <-r.queue:
		default:
		}
		if j == nil {
			break
		}
		j.finishedAt = r.now()
		j.err = ErrClosed
		j.status = StatusError
		close(j.done)
		discardInput(j.request, r.logger)
		abandoned++
	}
	close(r.queue)
	r.mu.Unlock()

	close(r.stopSweep)
	r.wg.Wait()

	done := make(chan struct{})
	go func() {
		r.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.cancelRun()
		return ctx.Err()
	}
	r.cancelRun()

	stats := r.GetStats()
	r.logger.Info("Job registry stopped",
		slog.Int("abandoned", abandoned),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
	)
	return nil
}

// GetStats returns current registry statistics
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		QueueDepth:    len(r.queue),
		QueueCapacity: cap(r.queue),
		Submitted:     r.submitted,
		Rejected:      r.rejected,
		Succeeded:     r.succeeded,
		Failed:        r.failed,
		Swept:         r.swept,
	}
	for _, j := range r.jobs {
		switch j.status {
		case StatusQueued:
			stats.Queued++
		case StatusRunning:
			stats.Running++
		case StatusDone:
			stats.Done++
		case StatusError:
			stats.Error++
		}
	}
	return stats
}

func discardInput(req pipeline.Request, logger *slog.Logger) {
	if req.KeepInput || req.InputPath == "" {
		return
	}
	if err := os.Remove(req.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove upload",
			slog.String("path", req.InputPath),
			slog.String("error", err.Error()))
	}
}
