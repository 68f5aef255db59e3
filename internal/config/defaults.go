package config

import "time"

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: "", // resolved against the home dir at startup
		},
		LLM: LLMConfig{
			APIKey:            "${OPENAI_API_KEY}",
			Model:             "gpt-4o-mini",
			MaxConcurrent:     4,
			RequestsPerMinute: 60,
		},
		Chunker: ChunkerConfig{
			MaxTokensPerChunk: 100000,
		},
		Pipeline: PipelineConfig{
			Workers:        4,
			MaxAttempts:    3,
			RetryBaseDelay: 2 * time.Second,
		},
		Schedule: ScheduleConfig{
			AnchorToDayBoundary: true,
			LowQuality:          0.5,
			HighQuality:         0.85,
			ShrinkFactor:        0.7,
			GrowFactor:          1.3,
		},
		Dispatcher: DispatcherConfig{
			Period:    30 * time.Second,
			BatchSize: 20,
			MaxClaims: 5,
		},
	}
}
