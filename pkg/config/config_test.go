package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/ama-live/pkg/live"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(append([]string{"--env-file", ""}, args...)))
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api", cfg.BaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, live.DefaultMaxRetries, cfg.Live.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.HTTP.Timeout)
	assert.False(t, cfg.Live.ResyncOnReconnect)
	assert.Equal(t, int64(live.DefaultMaxFrameSize), cfg.Live.MaxFrameSize)
}

func TestMaxFrameSizeFromEnv(t *testing.T) {
	t.Setenv("AMA_LIVE_MAX_FRAME_SIZE", "4194304")
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), cfg.LiveOptions().MaxFrameSize)

	t.Setenv("AMA_LIVE_MAX_FRAME_SIZE", "0")
	_, err = Load(newFlags(t))
	assert.ErrorContains(t, err, "max_frame_size")
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ama.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://file.example/api
share_url: http://share.example
live:
  max_retries: 3
  resync_on_reconnect: true
`), 0o600))

	t.Setenv("AMA_SHARE_URL", "http://env.example")
	t.Setenv("AMA_LIVE_INITIAL_BACKOFF", "2s")

	cfg, err := Load(newFlags(t, "--config", path, "--base-url", "http://flag.example/api"))
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example/api", cfg.BaseURL)
	assert.Equal(t, "http://env.example", cfg.ShareURL)
	assert.Equal(t, 3, cfg.Live.MaxRetries)
	assert.True(t, cfg.Live.ResyncOnReconnect)
	assert.Equal(t, 2*time.Second, cfg.Live.InitialBackoff)

	opts := cfg.LiveOptions()
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 2*time.Second, opts.InitialBackoff)
}

func TestDotenvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("AMA_LOG_LEVEL=debug\n"), 0o600))
	// godotenv never overrides variables that are already set; make sure it is clean and
	// restored afterwards.
	t.Setenv("AMA_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("AMA_LOG_LEVEL"))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--env-file", envPath}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMissingDotenvIsIgnored(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--env-file", filepath.Join(t.TempDir(), "nope.env")}))
	_, err := Load(fs)
	assert.NoError(t, err)
}

func TestValidation(t *testing.T) {
	_, err := Load(newFlags(t, "--log-level", "loud"))
	assert.ErrorContains(t, err, "unknown log level")

	t.Setenv("AMA_LOG_FORMAT", "xml")
	_, err = Load(newFlags(t))
	assert.ErrorContains(t, err, "unknown log format")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLogger(t *testing.T) {
	cfg := &Config{Log: LogCfg{Level: "warn", Format: "json"}}
	var buf bytes.Buffer
	logger, closer, err := cfg.Logger(&buf, false)
	require.NoError(t, err)
	defer closer()
	logger.Info("hidden")
	logger.Warn("shown", slog.String("room", "r1"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"room":"r1"`)

	buf.Reset()
	logger, closer2, err := cfg.Logger(&buf, true)
	require.NoError(t, err)
	defer closer2()
	logger.Error("discarded")
	assert.Zero(t, buf.Len())

	path := filepath.Join(t.TempDir(), "ama.log")
	cfg.Log.File = path
	logger, closer3, err := cfg.Logger(&buf, true)
	require.NoError(t, err)
	logger.Warn("to file")
	require.NoError(t, closer3())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
