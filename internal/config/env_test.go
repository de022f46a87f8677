package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	cfg := FromEnv()
	if cfg.Queue.Stream != "jobs:extract" {
		t.Errorf("expected %q, got %q", "jobs:extract", cfg.Queue.Stream)
	}
	if cfg.Worker.JobMaxAttempts != 3 || cfg.Worker.Concurrency != 2 {
		t.Errorf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.Logging.Pretty {
		t.Errorf("expected JSON logs outside dev")
	}
	if cfg.Axiom.Dataset != "dev_questionextractor" {
		t.Errorf("expected %q, got %q", "dev_questionextractor", cfg.Axiom.Dataset)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "6")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("TABLE_DENSITY_THRESHOLD", "0.35")
	t.Setenv("RUN_DISPATCHER", "off")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")

	cfg := FromEnv()
	if cfg.Worker.Concurrency != 6 {
		t.Errorf("expected 6, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.JobTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.Worker.JobTimeout)
	}
	if cfg.Engine.Threshold != 0.35 {
		t.Errorf("expected 0.35, got %v", cfg.Engine.Threshold)
	}
	if cfg.Worker.Enabled || !cfg.Logging.Pretty {
		t.Errorf("unexpected bools: dispatcher=%v pretty=%v", cfg.Worker.Enabled, cfg.Logging.Pretty)
	}
	if cfg.Server.MaxUploadMB != 64 {
		t.Errorf("invalid number must fall back to default, got %d", cfg.Server.MaxUploadMB)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "WORKER_CONCURRENCY"},
		{"threshold too high", func(c *Config) { c.Engine.Threshold = 1.2 }, "TABLE_DENSITY_THRESHOLD"},
		{"bad target", func(c *Config) { c.Providers.Targets = "openai:gpt-4o,gemini" }, `"gemini"`},
		{"axiom without key", func(c *Config) { c.Axiom.Send = true; c.Axiom.APIKey = "" }, "AXIOM_API_KEY"},
		{"retry delays", func(c *Config) { c.Worker.RetryMaxDelay = time.Second }, "RETRY_MAX_DELAY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
