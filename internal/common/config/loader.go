package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/amoylab/hostlink/pkg/helper"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadConfig loads configuration from a YAML or TOML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	data = resolveEnv(data)
	var cfg Config
	switch strings.ToLower(filepath.Ext(cfgPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("failed to decode toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("failed to decode yaml config: %w", err)
		}
	}

	SetDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// SetDefaults fills every zero value with the documented default
func SetDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5236
	}
	if cfg.Server.WebSocketPath == "" {
		cfg.Server.WebSocketPath = "/websocket"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = time.Second
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
		if cfg.Database.DBName == "" {
			cfg.Database.DBName = "./data/hostlink.db"
		}
	}
	if cfg.Auth.SessionCookie == "" {
		cfg.Auth.SessionCookie = "hostlink_session"
	}
	if cfg.Auth.SessionCacheTTL == 0 {
		cfg.Auth.SessionCacheTTL = 30 * time.Second
	}

	setLimitDefaults(&cfg.RateLimit.Host, 500, 100)
	setLimitDefaults(&cfg.RateLimit.Client, 100, 20)

	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 30 * time.Second
	}
	if cfg.Heartbeat.ClientStaleAfter == 0 {
		cfg.Heartbeat.ClientStaleAfter = 60 * time.Second
	}
	if cfg.Heartbeat.HostUnreachableAfter == 0 {
		cfg.Heartbeat.HostUnreachableAfter = 6 * time.Hour
	}

	if cfg.Transactions.DroppedGracePeriod == 0 {
		cfg.Transactions.DroppedGracePeriod = 10 * time.Minute
	}
	if cfg.Transactions.SweepInterval == 0 {
		cfg.Transactions.SweepInterval = 5 * time.Minute
	}
	if cfg.Transactions.HostResolveTimeout == 0 {
		cfg.Transactions.HostResolveTimeout = 60 * time.Second
	}
	if cfg.Transactions.PollInterval == 0 {
		cfg.Transactions.PollInterval = 500 * time.Millisecond
	}
	if cfg.Sequencer.Timeout == 0 {
		cfg.Sequencer.Timeout = 60 * time.Second
	}
	if cfg.Sequencer.Settle == 0 {
		cfg.Sequencer.Settle = 100 * time.Millisecond
	}

	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "log"
	}
	if cfg.Notifier.Stream == "" {
		cfg.Notifier.Stream = "hostlink:notifications"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "hostlink"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "hostlink"
	}
}

func setLimitDefaults(l *LimitConfig, max, alert int) {
	if l.MaxPerSecond == 0 {
		l.MaxPerSecond = max
	}
	if l.AlertPerSecond == 0 {
		l.AlertPerSecond = alert
	}
	if l.WindowSeconds == 0 {
		l.WindowSeconds = 60
	}
	if l.AlertWindowsAllowed == 0 {
		l.AlertWindowsAllowed = 30
	}
}

// Validate reports configuration that cannot work at runtime
func Validate(cfg *Config) error {
	if cfg.Auth.SessionSecret != "" && len(cfg.Auth.SessionSecret) < 32 {
		return fmt.Errorf("auth.session_secret must be at least 32 characters")
	}
	for name, l := range map[string]LimitConfig{"host": cfg.RateLimit.Host, "client": cfg.RateLimit.Client} {
		if l.AlertPerSecond > l.MaxPerSecond {
			return fmt.Errorf("rate_limit.%s: alert_per_second must not exceed max_per_second", name)
		}
		if l.AlertWindowsAllowed > l.WindowSeconds {
			return fmt.Errorf("rate_limit.%s: alert_windows_allowed must not exceed window_seconds", name)
		}
	}
	switch cfg.Notifier.Type {
	case "log", "redis", "composite":
	default:
		return fmt.Errorf("unsupported notifier type: %s", cfg.Notifier.Type)
	}
	return nil
}

// resolveEnv replaces environment variable placeholders in the raw file content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
