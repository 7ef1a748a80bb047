package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"unknown": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, exp := range cases {
		assert.Equal(t, exp, parseLevel(in), in)
	}
}

func TestNewLogger_Stdout(t *testing.T) {
	cfg := &config.LoggerConfig{Format: "console", Color: true, Level: "debug", TimeZone: "UTC"}
	lg, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(zapcore.DebugLevel))
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hostlink.log")
	cfg := &config.LoggerConfig{Output: "file", FilePath: path, Level: "warn"}
	lg, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, lg.Core().Enabled(zapcore.InfoLevel))

	lg.Warn("disk check")
	_ = lg.Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk check")
}

func TestLocationFallsBack(t *testing.T) {
	assert.NotNil(t, location("Not/AZone"))
	assert.Equal(t, "UTC", location("UTC").String())
}
