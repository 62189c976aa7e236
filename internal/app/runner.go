package app

import (
	"context"
	"log/slog"

	"github.com/jenanos/scribe-service/internal/audio"
	"github.com/jenanos/scribe-service/internal/config"
	"github.com/jenanos/scribe-service/internal/lazy"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/pipeline"
	"github.com/jenanos/scribe-service/internal/rewrite"
	"github.com/jenanos/scribe-service/internal/transcription"
)

// NewRunner wires a pipeline runner from configuration. The recognizer and
// rewriter are built on first use; in dev stub mode they are fixed-output
// stubs. m may be nil.
func NewRunner(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *pipeline.Runner {
	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		SampleRate: cfg.Audio.SampleRate,
		TempDir:    cfg.Audio.TempDir,
	})
	segmenter := audio.NewSegmenter(cfg.Audio.TempDir)

	asr := lazy.New(func(ctx context.Context) (transcription.Recognizer, error) {
		if cfg.DevStub {
			logger.Warn("Using stub speech recognizer")
			return transcription.StubRecognizer{}, nil
		}
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:        cfg.ASR.Endpoint,
			ReleaseEndpoint: cfg.ASR.ReleaseEndpoint,
			APIKey:          cfg.ASR.APIKey,
			Model:           cfg.ASR.Model,
			Language:        cfg.ASR.Language,
			Timeout:         cfg.ASR.GetTimeoutDuration(),
			MaxRetries:      cfg.ASR.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Speech recognizer ready",
			slog.String("backend", client.Name()),
			slog.String("endpoint", cfg.ASR.Endpoint))
		return client, nil
	}, releaseRecognizer)

	rewriter := lazy.New(func(ctx context.Context) (rewrite.Rewriter, error) {
		if cfg.DevStub {
			logger.Warn("Using stub rewriter")
			return rewrite.StubRewriter{}, nil
		}
		client, err := rewrite.NewClient(rewrite.Config{
			Endpoint:        cfg.Rewrite.Endpoint,
			ReleaseEndpoint: cfg.Rewrite.ReleaseEndpoint,
			APIKey:          cfg.Rewrite.APIKey,
			Model:           cfg.Rewrite.Model,
			MaxTokens:       cfg.Rewrite.MaxTokens,
			Temperature:     cfg.Rewrite.Temperature,
			Timeout:         cfg.Rewrite.GetTimeoutDuration(),
			MaxRetries:      cfg.Rewrite.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Rewrite model ready",
			slog.String("backend", client.Name()),
			slog.String("endpoint", cfg.Rewrite.Endpoint))
		return client, nil
	}, releaseRewriter)

	return pipeline.NewRunner(normalizer, segmenter, asr, rewriter, pipeline.Config{
		SegmentLength: cfg.Audio.GetSegmentLength(),
		Logger:        logger,
		Metrics:       m,
	})
}

func releaseRecognizer(ctx context.Context, r transcription.Recognizer) error {
	return r.Release(ctx)
}

func releaseRewriter(ctx context.Context, r rewrite.Rewriter) error {
	return r.Release(ctx)
}
