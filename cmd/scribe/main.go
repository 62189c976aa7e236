package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jenanos/scribe-service/internal/app"
	"github.com/jenanos/scribe-service/internal/config"
	"github.com/jenanos/scribe-service/internal/pipeline"
	"github.com/jenanos/scribe-service/internal/rewrite"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	output := flag.String("o", "", "Base name for output files (default: input file name without extension)")
	segmentLength := flag.Int("l", 0, "Segment length in seconds (default: audio.segment_length from config)")
	modeName := flag.String("mode", string(rewrite.DefaultMode), "Rewrite mode: "+modeList())
	noRewrite := flag.Bool("no-rewrite", false, "Only transcribe; skip the rewrite step")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <audio file>\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	if err := run(input, *configPath, *output, *segmentLength, *modeName, !*noRewrite); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, configPath, output string, segmentLength int, modeName string, doRewrite bool) error {
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	mode, known := rewrite.ParseMode(modeName)
	if !known {
		return fmt.Errorf("unknown mode %q, choose one of %s", modeName, modeList())
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Keep stdout for the output paths
	logCfg := cfg.Logging
	if logCfg.Output == "stdout" || logCfg.Output == "" {
		logCfg.Output = "stderr"
	}
	logger, logCloser := app.NewLogger(logCfg)
	defer logCloser.Close()

	base := output
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := app.NewRunner(cfg, logger, nil)
	defer runner.Shutdown(context.Background())

	start := time.Now()
	result, err := runner.Run(ctx, pipeline.Request{
		InputPath:     input,
		Mode:          mode,
		Rewrite:       doRewrite,
		SegmentLength: time.Duration(segmentLength) * time.Second,
		KeepInput:     true,
	})
	if err != nil {
		return err
	}

	rawPath := base + "_raw.txt"
	if err := os.WriteFile(rawPath, []byte(result.Raw), 0o644); err != nil {
		return fmt.Errorf("failed to write raw transcript: %w", err)
	}
	fmt.Printf("Wrote raw transcript to: %s\n", rawPath)

	if result.Clean != nil {
		cleanPath := base + "_clean.txt"
		if err := os.WriteFile(cleanPath, []byte(*result.Clean), 0o644); err != nil {
			return fmt.Errorf("failed to write rewritten text: %w", err)
		}
		fmt.Printf("Wrote rewritten text (%s) to: %s\n", mode, cleanPath)
	}

	logger.Info("Done",
		slog.Int("segments", result.Segments),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func modeList() string {
	modes := rewrite.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
