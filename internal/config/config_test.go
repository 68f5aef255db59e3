package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Chunker.MaxTokensPerChunk != 100000 {
		t.Errorf("default chunk budget = %d, want 100000", cfg.Chunker.MaxTokensPerChunk)
	}
	if cfg.Schedule.LowQuality != 0.5 || cfg.Schedule.HighQuality != 0.85 {
		t.Errorf("default quality band = [%v, %v], want [0.5, 0.85]",
			cfg.Schedule.LowQuality, cfg.Schedule.HighQuality)
	}
	if cfg.Dispatcher.Period != 30*time.Second {
		t.Errorf("default dispatch period = %v, want 30s", cfg.Dispatcher.Period)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("TOME_TEST_KEY", "secret-value")

	cases := []struct {
		in, want string
	}{
		{"${TOME_TEST_KEY}", "secret-value"},
		{"prefix-${TOME_TEST_KEY}-suffix", "prefix-secret-value-suffix"},
		{"no-vars-here", "no-vars-here"},
		{"", ""},
		{"${UNSET_VARIABLE_XYZ}", ""},
	}
	for _, tc := range cases {
		if got := ResolveEnvVars(tc.in); got != tc.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolvedAPIKey(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test")
	cfg := &Config{LLM: LLMConfig{APIKey: "${TEST_API_KEY}"}}
	if got := cfg.ResolvedAPIKey(); got != "sk-test" {
		t.Errorf("ResolvedAPIKey() = %q, want sk-test", got)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Tome configuration") {
		t.Error("config missing header comment")
	}
	for _, section := range []string{"server:", "llm:", "pipeline:", "schedule:", "dispatcher:"} {
		if !strings.Contains(content, section) {
			t.Errorf("config missing section %q", section)
		}
	}
	if !strings.Contains(content, "${OPENAI_API_KEY}") {
		t.Error("config should reference the API key env var, not a literal")
	}
}
