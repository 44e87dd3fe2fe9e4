package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
remote:
  base_url: http://mirror.internal
  user_agent: oeissync-test
  max_rps: 5
sync:
  workers: 8
  start: 1
  end: 100
retry:
  max_attempts: 5
db:
  dsn: postgres://localhost/oeis
storage:
  backend: gcs
  gcs_bucket: oeis-snapshots
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(strings.TrimSpace(configYAML)), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("server.port = %d", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "http://mirror.internal" {
		t.Fatalf("remote.base_url = %s", cfg.Remote.BaseURL)
	}
	if cfg.Sync.Workers != 8 {
		t.Fatalf("sync.workers = %d", cfg.Sync.Workers)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("retry.max_attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.GCSBucket != "oeis-snapshots" {
		t.Fatalf("storage.gcs_bucket = %s", cfg.Storage.GCSBucket)
	}
	// Untouched keys keep defaults.
	if cfg.Remote.TimeoutSeconds != 15 {
		t.Fatalf("remote.timeout_seconds default = %d", cfg.Remote.TimeoutSeconds)
	}
	if got := cfg.RetryBaseDelay(); got != 500*time.Millisecond {
		t.Fatalf("retry base delay = %v", got)
	}
}

func TestLoadDefaultsValidate(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.Workers != 4 {
		t.Fatalf("sync.workers default = %d", cfg.Sync.Workers)
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("storage.backend default = %s", cfg.Storage.Backend)
	}
	if cfg.Since() != 0 {
		t.Fatalf("since default = %v", cfg.Since())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }},
		{"missing base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"negative rps", func(c *Config) { c.Remote.MaxRPS = -1 }},
		{"multiplier below 2", func(c *Config) { c.Retry.Multiplier = 1.5 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "tape" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs"; c.Storage.GCSBucket = "" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
