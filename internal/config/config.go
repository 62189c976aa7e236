package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Audio   AudioConfig   `yaml:"audio"`
	ASR     ASRConfig     `yaml:"asr"`
	Rewrite RewriteConfig `yaml:"rewrite"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`

	// DevStub replaces the ASR and rewrite backends with fixed-output stubs
	DevStub bool `yaml:"dev_stub"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int      `yaml:"port"`
	Address      string   `yaml:"address"`
	MaxUploadMB  int      `yaml:"max_upload_mb"`
	CORSOrigins  []string `yaml:"cors_origins"`
	ReadTimeout  int      `yaml:"read_timeout"`  // seconds
	WriteTimeout int      `yaml:"write_timeout"` // seconds, 0 = no limit (sync endpoint blocks on the pipeline)
	SubmitRate   float64  `yaml:"submit_rate"`   // uploads per second, 0 = unlimited
	SubmitBurst  int      `yaml:"submit_burst"`
}

// AudioConfig contains normalization and segmentation parameters
type AudioConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	SampleRate    int    `yaml:"sample_rate"`
	SegmentLength int    `yaml:"segment_length"` // seconds
	TempDir       string `yaml:"temp_dir"`
}

// ASRConfig contains speech recognition backend configuration
type ASRConfig struct {
	Endpoint        string `yaml:"endpoint"`
	ReleaseEndpoint string `yaml:"release_endpoint"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxRetries      int    `yaml:"max_retries"`
}

// RewriteConfig contains text generation backend configuration
type RewriteConfig struct {
	Endpoint        string  `yaml:"endpoint"`
	ReleaseEndpoint string  `yaml:"release_endpoint"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	Timeout         int     `yaml:"timeout"` // seconds
	MaxRetries      int     `yaml:"max_retries"`
}

// JobsConfig contains job registry configuration
type JobsConfig struct {
	Retention     int `yaml:"retention"`      // seconds
	SweepInterval int `yaml:"sweep_interval"` // seconds, 0 disables the periodic sweep
	QueueCapacity int `yaml:"queue_capacity"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig contains OpenTelemetry export configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path when it exists, otherwise returns the validated defaults.
// Used by the command-line tool, which runs without a config file in the common case.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	config := Default()
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// applyEnv overlays secrets and switches that are never committed to the YAML file
func (c *Config) applyEnv() {
	hfToken := os.Getenv("HF_TOKEN")

	if key := os.Getenv("SCRIBE_ASR_API_KEY"); key != "" {
		c.ASR.APIKey = key
	} else if c.ASR.APIKey == "" {
		c.ASR.APIKey = hfToken
	}

	if key := os.Getenv("SCRIBE_REWRITE_API_KEY"); key != "" {
		c.Rewrite.APIKey = key
	} else if c.Rewrite.APIKey == "" {
		c.Rewrite.APIKey = hfToken
	}

	if os.Getenv("DEV_STUB") == "1" {
		c.DevStub = true
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	// Backends are unused in stub mode
	if !c.DevStub {
		if err := c.ASR.Validate(); err != nil {
			return fmt.Errorf("asr config: %w", err)
		}

		if err := c.Rewrite.Validate(); err != nil {
			return fmt.Errorf("rewrite config: %w", err)
		}
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.SubmitRate < 0 {
		return fmt.Errorf("submit_rate cannot be negative, got %f", h.SubmitRate)
	}

	if h.SubmitRate > 0 && h.SubmitBurst < 1 {
		return fmt.Errorf("submit_burst must be at least 1 when submit_rate is set, got %d", h.SubmitBurst)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.SegmentLength < 1 {
		return fmt.Errorf("segment_length must be at least 1 second, got %d", a.SegmentLength)
	}

	return nil
}

// Validate validates ASR backend configuration
func (a *ASRConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	return nil
}

// Validate validates rewrite backend configuration
func (r *RewriteConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if r.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", r.MaxTokens)
	}

	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", r.Temperature)
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	return nil
}

// Validate validates job registry configuration
func (j *JobsConfig) Validate() error {
	if j.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", j.Retention)
	}

	if j.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval cannot be negative, got %d", j.SweepInterval)
	}

	if j.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", j.QueueCapacity)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	if strings.TrimSpace(l.Output) == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Validate validates tracing configuration
func (t *TracingConfig) Validate() error {
	if t.Enabled && t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when tracing is enabled")
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetSegmentLength returns the segment length as a time.Duration
func (a *AudioConfig) GetSegmentLength() time.Duration {
	return time.Duration(a.SegmentLength) * time.Second
}

// GetTimeoutDuration returns the ASR request timeout as a time.Duration
func (a *ASRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTimeoutDuration returns the rewrite request timeout as a time.Duration
func (r *RewriteConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetRetention returns the terminal job retention window as a time.Duration
func (j *JobsConfig) GetRetention() time.Duration {
	return time.Duration(j.Retention) * time.Second
}

// GetSweepInterval returns the periodic sweep interval as a time.Duration
func (j *JobsConfig) GetSweepInterval() time.Duration {
	return time.Duration(j.SweepInterval) * time.Second
}
