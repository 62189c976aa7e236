package config

const (
	DefaultSampleRate    = 16000
	DefaultSegmentLength = 30   // seconds
	DefaultRetention     = 1800 // seconds
)

// Default returns a configuration with every field populated. Values read from
// a YAML file are unmarshalled on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8000,
			Address:      "0.0.0.0",
			MaxUploadMB:  512,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  300,
			WriteTimeout: 0,
		},
		Audio: AudioConfig{
			FFmpegPath:    "ffmpeg",
			SampleRate:    DefaultSampleRate,
			SegmentLength: DefaultSegmentLength,
		},
		ASR: ASRConfig{
			Endpoint:   "http://127.0.0.1:9000/transcribe",
			Model:      "NbAiLabBeta/nb-whisper-large",
			Language:   "no",
			Timeout:    600,
			MaxRetries: 2,
		},
		Rewrite: RewriteConfig{
			Endpoint:    "http://127.0.0.1:9000/v1",
			Model:       "google/gemma-3-4b-it",
			MaxTokens:   1024,
			Temperature: 0,
			Timeout:     600,
			MaxRetries:  2,
		},
		Jobs: JobsConfig{
			Retention:     DefaultRetention,
			SweepInterval: 60,
			QueueCapacity: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName: "scribe-service",
		},
	}
}
