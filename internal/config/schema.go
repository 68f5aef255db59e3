package config

import "time"

// Config is the full tome configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Chunker    ChunkerConfig    `mapstructure:"chunker" yaml:"chunker"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Path overrides the default database location (~/.tome/data/tome.db).
	Path string `mapstructure:"path" yaml:"path"`
}

// LLMConfig holds the model provider settings.
type LLMConfig struct {
	// APIKey may use ${ENV_VAR} syntax to reference an environment variable.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// BaseURL overrides the provider endpoint (for proxies or compatible APIs).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Model is the chat model identifier.
	Model string `mapstructure:"model" yaml:"model"`

	// MaxConcurrent caps simultaneous outstanding calls.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	// RequestsPerMinute is the provider rate limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ChunkerConfig holds content-splitting settings.
type ChunkerConfig struct {
	MaxTokensPerChunk int `mapstructure:"max_tokens_per_chunk" yaml:"max_tokens_per_chunk"`
}

// PipelineConfig holds analysis pipeline settings.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// ScheduleConfig holds spaced-repetition settings.
type ScheduleConfig struct {
	// AnchorToDayBoundary snaps deliveries to the user's daily
	// notification time instead of exact interval offsets.
	AnchorToDayBoundary bool `mapstructure:"anchor_to_day_boundary" yaml:"anchor_to_day_boundary"`

	LowQuality   float64 `mapstructure:"low_quality" yaml:"low_quality"`
	HighQuality  float64 `mapstructure:"high_quality" yaml:"high_quality"`
	ShrinkFactor float64 `mapstructure:"shrink_factor" yaml:"shrink_factor"`
	GrowFactor   float64 `mapstructure:"grow_factor" yaml:"grow_factor"`
}

// DispatcherConfig holds delivery loop settings.
type DispatcherConfig struct {
	Period    time.Duration `mapstructure:"period" yaml:"period"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxClaims int           `mapstructure:"max_claims" yaml:"max_claims"`
}
