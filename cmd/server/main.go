package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jenanos/scribe-service/internal/app"
	"github.com/jenanos/scribe-service/internal/config"
	"github.com/jenanos/scribe-service/internal/jobs"
	"github.com/jenanos/scribe-service/internal/metrics"
	"github.com/jenanos/scribe-service/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "scribe-service"
	serviceVersion    = "1.0.0"

	// shutdownTimeout bounds how long a running job may delay exit
	shutdownTimeout = 5 * time.Minute
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// A missing file is fine: defaults and environment overrides apply
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := app.NewLogger(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("segment_length", cfg.Audio.GetSegmentLength()),
		slog.String("asr_endpoint", cfg.ASR.Endpoint),
		slog.String("rewrite_endpoint", cfg.Rewrite.Endpoint),
		slog.Duration("job_retention", cfg.Jobs.GetRetention()),
		slog.Bool("dev_stub", cfg.DevStub),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := app.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("Failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	runner := app.NewRunner(cfg, logger, appMetrics)

	jobRegistry := jobs.NewRegistry(runner, jobs.Config{
		Retention:     cfg.Jobs.GetRetention(),
		SweepInterval: cfg.Jobs.GetSweepInterval(),
		QueueCapacity: cfg.Jobs.QueueCapacity,
		Logger:        logger,
		Metrics:       appMetrics,
	})
	jobRegistry.Start()

	httpServer := server.NewHTTPServer(cfg, logger, jobRegistry, runner, appMetrics, registry)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := httpServer.Stop(httpCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	httpCancel()

	// Let the running job finish; queued ones are failed
	jobsCtx, jobsCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := jobRegistry.Stop(jobsCtx); err != nil {
		logger.Error("Error stopping job registry", slog.String("error", err.Error()))
	}
	jobsCancel()

	// Drop cached model clients
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := runner.Shutdown(releaseCtx); err != nil {
		logger.Warn("Error releasing models", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(releaseCtx); err != nil {
		logger.Warn("Error flushing traces", slog.String("error", err.Error()))
	}
	releaseCancel()

	stats := jobRegistry.GetStats()
	logger.Info("Final job statistics",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("rejected", stats.Rejected),
	)

	logger.Info("Service stopped")
}
