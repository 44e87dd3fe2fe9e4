// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Retry   RetryConfig   `mapstructure:"retry"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RemoteConfig points at the upstream sequence database.
type RemoteConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
	MaxRPS         float64 `mapstructure:"max_rps"`
	Burst          int     `mapstructure:"burst"`
}

// SyncConfig governs pass shape and the worker pool.
type SyncConfig struct {
	Workers          int   `mapstructure:"workers"`
	Start            int64 `mapstructure:"start"`
	End              int64 `mapstructure:"end"`
	SinceHours       int   `mapstructure:"since_hours"`
	StaleLimit       int   `mapstructure:"stale_limit"`
	FetchAttachments bool  `mapstructure:"fetch_attachments"`
}

// RetryConfig drives transient-failure backoff.
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BaseDelayMs      int     `mapstructure:"base_delay_ms"`
	Multiplier       float64 `mapstructure:"multiplier"`
	MaxDelayMs       int     `mapstructure:"max_delay_ms"`
	MaxThrottleWaits int     `mapstructure:"max_throttle_waits"`
}

// DBConfig controls access to the Postgres mirror.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects where snapshot exports land.
type StorageConfig struct {
	// Backend is "local", "gcs" or "memory".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for pass lifecycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OEISSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("remote.base_url", "http://oeis.org")
	v.SetDefault("remote.user_agent", "oeissync/1.0")
	v.SetDefault("remote.timeout_seconds", 15)
	v.SetDefault("remote.max_body_bytes", 16<<20)
	v.SetDefault("remote.max_rps", 2.0)
	v.SetDefault("remote.burst", 1)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.stale_limit", 10000)
	v.SetDefault("sync.fetch_attachments", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.max_throttle_waits", 10)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be > 0")
	}
	if c.Remote.MaxRPS < 0 {
		return fmt.Errorf("remote.max_rps must be >= 0")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	// Below 2 the jittered backoff windows overlap and delays can shrink
	// between attempts.
	if c.Retry.Multiplier < 2 {
		return fmt.Errorf("retry.multiplier must be >= 2")
	}
	switch c.Storage.Backend {
	case "local", "gcs", "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RemoteTimeout converts the remote timeout to a duration.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// ServerTimeout converts the HTTP request timeout to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// RetryBaseDelay converts the retry base delay to a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}

// RetryMaxDelay converts the retry delay cap to a duration.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
}

// Since converts the incremental window to a duration; zero means range mode.
func (c Config) Since() time.Duration {
	return time.Duration(c.Sync.SinceHours) * time.Hour
}

// ConnLifetime converts the pool connection lifetime to a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMinute) * time.Minute
}
