package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrToolNotFound is returned when the ffmpeg binary cannot be located
var ErrToolNotFound = errors.New("decoder tool not found")

// maxStderrTail bounds how much ffmpeg output is kept in a DecodeError
const maxStderrTail = 2048

// DecodeError reports a failure to turn an input file into a canonical waveform
type DecodeError struct {
	Tool     string
	Input    string
	ExitCode int
	Stderr   string
	Err      error
}

// Error formats decode failures for logs and job records
func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrToolNotFound) {
		return fmt.Sprintf("decode %s: %s not found in PATH", e.Input, e.Tool)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("decode %s: %s exited with %d: %s", e.Input, e.Tool, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("decode %s: %s failed: %v", e.Input, e.Tool, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CommandResult is the captured outcome of one external process
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner abstracts process execution for testability
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// NormalizerConfig configures canonical waveform conversion
type NormalizerConfig struct {
	FFmpegPath string
	SampleRate int
	TempDir    string // "" uses os.TempDir()
}

// Normalizer converts arbitrary audio containers into mono PCM-16 WAV at a fixed rate
type Normalizer struct {
	config   NormalizerConfig
	runner   CommandRunner
	lookPath func(file string) (string, error)
}

// NewNormalizer creates a normalizer that shells out to ffmpeg
func NewNormalizer(config NormalizerConfig) *Normalizer {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	return &Normalizer{
		config:   config,
		runner:   ExecRunner{},
		lookPath: exec.LookPath,
	}
}

// WithRunner replaces the process runner. Intended for tests.
func (n *Normalizer) WithRunner(runner CommandRunner, lookPath func(string) (string, error)) *Normalizer {
	n.runner = runner
	if lookPath != nil {
		n.lookPath = lookPath
	}
	return n
}

// SampleRate returns the rate of every waveform this normalizer produces
func (n *Normalizer) SampleRate() int {
	return n.config.SampleRate
}

// Normalize writes a canonical waveform for inputPath into a fresh temporary
// file and returns its path. The input file is never modified or removed.
// On failure no temporary file is left behind.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	tool, err := n.lookPath(n.config.FFmpegPath)
	if err != nil {
		return "", &DecodeError{
			Tool:     n.config.FFmpegPath,
			Input:    inputPath,
			ExitCode: -1,
			Err:      fmt.Errorf("%w: %v", ErrToolNotFound, err),
		}
	}

	out, err := os.CreateTemp(n.config.TempDir, "canonical-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create canonical waveform file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", inputPath,
		"-ar", strconv.Itoa(n.config.SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outPath,
	}

	result, err := n.runner.Run(ctx, tool, args...)
	if err != nil {
		os.Remove(outPath)
		return "", &DecodeError{
			Tool:     n.config.FFmpegPath,
			Input:    inputPath,
			ExitCode: result.ExitCode,
			Stderr:   tail(strings.TrimSpace(result.Stderr), maxStderrTail),
			Err:      err,
		}
	}

	return outPath, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
