package config

import (
	"time"

	"github.com/amoylab/hostlink/pkg/trace"
)

type (
	// Config represents the hostlink server configuration
	Config struct {
		Server       ServerConfig       `yaml:"server" toml:"server"`
		Database     DatabaseConfig     `yaml:"database" toml:"database"`
		Redis        RedisConfig        `yaml:"redis" toml:"redis"`
		Logger       LoggerConfig       `yaml:"logger" toml:"logger"`
		Auth         AuthConfig         `yaml:"auth" toml:"auth"`
		RateLimit    RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
		Heartbeat    HeartbeatConfig    `yaml:"heartbeat" toml:"heartbeat"`
		Transactions TransactionsConfig `yaml:"transactions" toml:"transactions"`
		Sequencer    SequencerConfig    `yaml:"sequencer" toml:"sequencer"`
		Notifier     NotifierConfig     `yaml:"notifier" toml:"notifier"`
		Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
		Tracing      trace.Config       `yaml:"tracing" toml:"tracing"`
	}

	// ServerConfig represents the listener and public URL settings
	ServerConfig struct {
		Port          int           `yaml:"port" toml:"port"`
		AppURL        string        `yaml:"app_url" toml:"app_url"`               // dashboard origin, also used to build links
		WebSocketPath string        `yaml:"websocket_path" toml:"websocket_path"` // upgrade entrypoint
		ShutdownGrace time.Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`
	}

	// DatabaseConfig represents the persistence settings
	DatabaseConfig struct {
		Type     string `yaml:"type" toml:"type"`         // mysql, postgres, sqlite
		Host     string `yaml:"host" toml:"host"`         // localhost
		Port     int    `yaml:"port" toml:"port"`         // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user" toml:"user"`         // root (for mysql), postgres (for postgres)
		Password string `yaml:"password" toml:"password"` // password
		DBName   string `yaml:"dbname" toml:"dbname"`     // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode" toml:"sslmode"`   // disable (for postgres)
	}

	// RedisConfig represents the Redis connection used by the notifier
	RedisConfig struct {
		Addr     string `yaml:"addr" toml:"addr"`
		Username string `yaml:"username" toml:"username"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`
		Color      bool   `yaml:"color" toml:"color"`
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`
		TimeFormat string `yaml:"time_format" toml:"time_format"`
	}

	// AuthConfig defines how sockets and internal callers are authenticated
	AuthConfig struct {
		SessionSecret     string        `yaml:"session_secret" toml:"session_secret"`
		SessionCookie     string        `yaml:"session_cookie" toml:"session_cookie"`
		SessionCacheTTL   time.Duration `yaml:"session_cache_ttl" toml:"session_cache_ttl"`
		InternalAPISecret string        `yaml:"internal_api_secret" toml:"internal_api_secret"`
		GhostModeEnabled  bool          `yaml:"ghost_mode_enabled" toml:"ghost_mode_enabled"`
	}

	// RateLimitConfig holds per-peer-kind limits
	RateLimitConfig struct {
		Host   LimitConfig `yaml:"host" toml:"host"`
		Client LimitConfig `yaml:"client" toml:"client"`
	}

	// LimitConfig describes one rate limit window
	LimitConfig struct {
		MaxPerSecond        int `yaml:"max_per_second" toml:"max_per_second"`
		AlertPerSecond      int `yaml:"alert_per_second" toml:"alert_per_second"`
		WindowSeconds       int `yaml:"window_seconds" toml:"window_seconds"`
		AlertWindowsAllowed int `yaml:"alert_windows_allowed" toml:"alert_windows_allowed"`
	}

	// HeartbeatConfig controls liveness probing
	HeartbeatConfig struct {
		Interval             time.Duration `yaml:"interval" toml:"interval"`
		ClientStaleAfter     time.Duration `yaml:"client_stale_after" toml:"client_stale_after"`
		HostUnreachableAfter time.Duration `yaml:"host_unreachable_after" toml:"host_unreachable_after"`
	}

	// TransactionsConfig controls transaction timeouts and sweeps
	TransactionsConfig struct {
		DroppedGracePeriod time.Duration `yaml:"dropped_grace_period" toml:"dropped_grace_period"`
		SweepInterval      time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
		HostResolveTimeout time.Duration `yaml:"host_resolve_timeout" toml:"host_resolve_timeout"`
		PollInterval       time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	}

	// SequencerConfig controls host initialization ordering
	SequencerConfig struct {
		Timeout time.Duration `yaml:"timeout" toml:"timeout"`
		Settle  time.Duration `yaml:"settle" toml:"settle"` // wait for earlier snapshots still on the wire
	}

	// NotifierConfig represents owner notification delivery
	NotifierConfig struct {
		Type   string `yaml:"type" toml:"type"`     // log, redis, composite
		Stream string `yaml:"stream" toml:"stream"` // redis stream name
	}

	// MetricsConfig represents the prometheus settings
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}
)
