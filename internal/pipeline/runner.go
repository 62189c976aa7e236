package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jenanos/scribe-service/internal/audio"
	"github.com/jenanos/scribe-service/internal/lazy"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/rewrite"
	"github.com/jenanos/scribe-service/internal/transcription"
	"golang.org/x/sync/semaphore"
)

// DefaultSegmentLength is used when neither the request nor the runner sets one
const DefaultSegmentLength = 30 * time.Second

// Decoder produces a canonical waveform file from an arbitrary audio input
type Decoder interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// Splitter slices a canonical waveform into ordered segment files
type Splitter interface {
	Split(waveformPath string, length time.Duration) (*audio.SegmentSet, error)
}

// Request describes one pipeline run
type Request struct {
	InputPath string
	Mode      rewrite.Mode
	Rewrite   bool
	// SegmentLength overrides the runner default when positive
	SegmentLength time.Duration
	// KeepInput leaves InputPath on disk after the run. Uploads owned by the
	// service never set it.
	KeepInput bool
}

// Result is the text produced by a successful run. Clean is nil when rewriting
// was not requested.
type Result struct {
	Raw      string            `json:"raw"`
	Clean    *string           `json:"clean"`
	Segments int               `json:"segments"`
	Audio    float64           `json:"audio_seconds"`
	Timings  map[Stage]float64 `json:"timings"`
}

// Config contains runner configuration
type Config struct {
	SegmentLength time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Runner executes decode, segmentation, recognition and rewriting for one
// input at a time. Temporary files created along the way, and the input
// itself, are removed before Run returns.
type Runner struct {
	decoder  Decoder
	splitter Splitter
	asr      *lazy.Cache[transcription.Recognizer]
	rewriter *lazy.Cache[rewrite.Rewriter]

	segmentLength time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics

	// gate admits a single run at a time across all callers
	gate *semaphore.Weighted

	// Statistics
	totalRuns  uint64
	failedRuns uint64
	lastRunAt  time.Time
	mu         sync.RWMutex
}

// RunnerStats represents runner statistics
type RunnerStats struct {
	TotalRuns  uint64    `json:"total_runs"`
	FailedRuns uint64    `json:"failed_runs"`
	LastRunAt  time.Time `json:"last_run_at"`
	ASRLoaded  bool      `json:"asr_loaded"`
	LLMLoaded  bool      `json:"rewrite_loaded"`

	// Client statistics of the loaded collaborators, when they keep any
	ASRClient     *transcription.ClientStats `json:"asr_client,omitempty"`
	RewriteClient *rewrite.ClientStats       `json:"rewrite_client,omitempty"`
}

type asrStatsSource interface {
	GetStats() transcription.ClientStats
}

type rewriteStatsSource interface {
	GetStats() rewrite.ClientStats
}

// NewRunner creates a runner over the given collaborators
func NewRunner(
	decoder Decoder,
	splitter Splitter,
	asr *lazy.Cache[transcription.Recognizer],
	rewriter *lazy.Cache[rewrite.Rewriter],
	config Config,
) *Runner {
	if config.SegmentLength <= 0 {
		config.SegmentLength = DefaultSegmentLength
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Runner{
		decoder:       decoder,
		splitter:      splitter,
		asr:           asr,
		rewriter:      rewriter,
		segmentLength: config.SegmentLength,
		logger:        config.Logger,
		metrics:       config.Metrics,
		gate:          semaphore.NewWeighted(1),
	}
}

// Run executes the pipeline for req. Any stage failure aborts the remaining
// stages and is returned as a *StageError; cleanup runs on every exit path.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	cleanup := newScope(r.logger)
	defer cleanup.close()

	if !req.KeepInput {
		cleanup.addFile("upload", req.InputPath)
	}

	if err := r.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for pipeline: %w", err)
	}
	defer r.gate.Release(1)

	result, err := r.run(ctx, req, cleanup)
	r.recordRun(err)
	return result, err
}

func (r *Runner) run(ctx context.Context, req Request, cleanup *scope) (*Result, error) {
	length := req.SegmentLength
	if length <= 0 {
		length = r.segmentLength
	}

	logger := r.logger.With(slog.String("mode", req.Mode.String()))
	result := &Result{Timings: make(map[Stage]float64)}
	runStart := time.Now()

	// Decode
	var waveformPath string
	err := r.timed(result, StageDecode, func() error {
		var err error
		waveformPath, err = r.decoder.Normalize(ctx, req.InputPath)
		return err
	})
	if err != nil {
		return nil, r.fail(StageDecode, err)
	}
	cleanup.addFile("waveform", waveformPath)

	// Segment
	var segments *audio.SegmentSet
	err = r.timed(result, StageSegment, func() error {
		var err error
		segments, err = r.splitter.Split(waveformPath, length)
		return err
	})
	if err != nil {
		return nil, r.fail(StageSegment, err)
	}
	cleanup.add("segments", segments.Cleanup)

	result.Segments = len(segments.Segments)
	result.Audio = segments.Duration().Seconds()
	logger.Info("Audio segmented",
		slog.Int("segments", result.Segments),
		slog.Duration("audio", segments.Duration()),
		slog.Duration("segment_length", length))

	// Recognize
	var texts []string
	err = r.timed(result, StageASR, func() error {
		if result.Segments == 0 {
			logger.Warn("Waveform holds no audio, skipping recognition")
			return nil
		}

		recognizer, err := r.asr.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to load recognizer: %w", err)
		}
		releaseASR := sync.OnceFunc(func() { r.release(ctx, "asr", recognizer) })
		cleanup.add("asr model", func() error { releaseASR(); return nil })

		texts, err = recognizer.Transcribe(ctx, segments.Paths())

		// Segments are consumed once; drop them and free device memory
		// before the rewrite model needs it.
		segments.Cleanup()
		releaseASR()

		if err != nil {
			return err
		}
		if len(texts) != result.Segments {
			return fmt.Errorf("recognizer returned %d texts for %d segments", len(texts), result.Segments)
		}
		return nil
	})
	if err != nil {
		return nil, r.fail(StageASR, err)
	}
	result.Raw = strings.Join(texts, "\n")

	// Rewrite
	if req.Rewrite {
		if !req.Mode.Known() {
			logger.Warn("Unknown rewrite mode, using generic instruction")
		}

		err = r.timed(result, StageRewrite, func() error {
			if result.Raw == "" {
				empty := ""
				result.Clean = &empty
				return nil
			}

			rewriter, err := r.rewriter.Get(ctx)
			if err != nil {
				return fmt.Errorf("failed to load rewrite model: %w", err)
			}
			defer r.release(ctx, "rewrite", rewriter)

			clean, err := rewriter.Rewrite(ctx, result.Raw, req.Mode)
			if err != nil {
				return err
			}
			result.Clean = &clean
			return nil
		})
		if err != nil {
			return nil, r.fail(StageRewrite, err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordRunSuccess(result.Segments, result.Audio)
	}

	logger.Info("Pipeline run completed",
		slog.Int("segments", result.Segments),
		slog.Int("raw_chars", len(result.Raw)),
		slog.Bool("rewritten", result.Clean != nil),
		slog.Duration("duration", time.Since(runStart)))

	return result, nil
}

// timed runs fn and records its duration under stage
func (r *Runner) timed(result *Result, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	result.Timings[stage] = elapsed.Seconds()
	if r.metrics != nil {
		r.metrics.RecordStage(string(stage), elapsed.Seconds())
	}
	return err
}

func (r *Runner) fail(stage Stage, err error) error {
	if r.metrics != nil {
		r.metrics.RecordRunFailure(string(stage))
	}
	r.logger.Error("Pipeline stage failed",
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	return stageError(stage, err)
}

type releaser interface {
	Name() string
	Release(ctx context.Context) error
}

// release frees model memory. Failures are logged and do not fail the run.
func (r *Runner) release(ctx context.Context, collaborator string, c releaser) {
	if err := c.Release(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.RecordReleaseFailure(collaborator)
		}
		r.logger.Warn("Failed to release model memory",
			slog.String("collaborator", collaborator),
			slog.String("backend", c.Name()),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("Model memory released",
		slog.String("collaborator", collaborator),
		slog.String("backend", c.Name()))
}

func (r *Runner) recordRun(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRuns++
	if err != nil {
		r.failedRuns++
	}
	r.lastRunAt = time.Now()
}

// Shutdown drops both cached collaborators, releasing whatever they hold
func (r *Runner) Shutdown(ctx context.Context) error {
	asrErr := r.asr.Reset(ctx)
	rewriteErr := r.rewriter.Reset(ctx)
	if asrErr != nil {
		return fmt.Errorf("failed to reset recognizer: %w", asrErr)
	}
	if rewriteErr != nil {
		return fmt.Errorf("failed to reset rewrite model: %w", rewriteErr)
	}
	return nil
}

// GetStats returns current runner statistics
func (r *Runner) GetStats() RunnerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RunnerStats{
		TotalRuns:  r.totalRuns,
		FailedRuns: r.failedRuns,
		LastRunAt:  r.lastRunAt,
		ASRLoaded:  r.asr.Loaded(),
		LLMLoaded:  r.rewriter.Loaded(),
	}

	if recognizer, ok := r.asr.Peek(); ok {
		if source, ok := recognizer.(asrStatsSource); ok {
			clientStats := source.GetStats()
			stats.ASRClient = &clientStats
		}
	}
	if rewriter, ok := r.rewriter.Peek(); ok {
		if source, ok := rewriter.(rewriteStatsSource); ok {
			clientStats := source.GetStats()
			stats.RewriteClient = &clientStats
		}
	}

	return stats
}
