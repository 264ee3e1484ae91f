// Package config loads client settings from flags, AMA_* environment variables (optionally
// from a .env file), an optional config file, and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/astromechza/ama-live/pkg/live"
)

const EnvPrefix = "AMA"

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type HTTPCfg struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LiveCfg struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	MaxFrameSize      int64         `mapstructure:"max_frame_size"`
	ResyncOnReconnect bool          `mapstructure:"resync_on_reconnect"`
}

type MetricsCfg struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	// BaseURL is the REST root of the remote service, such as http://localhost:8080/api.
	BaseURL string `mapstructure:"base_url"`
	// LiveURL overrides the websocket root derived from BaseURL.
	LiveURL string `mapstructure:"live_url"`
	// ShareURL is the address of the web front end used when sharing a room.
	ShareURL string     `mapstructure:"share_url"`
	Log      LogCfg     `mapstructure:"log"`
	HTTP     HTTPCfg    `mapstructure:"http"`
	Live     LiveCfg    `mapstructure:"live"`
	Metrics  MetricsCfg `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080/api")
	v.SetDefault("live_url", "")
	v.SetDefault("share_url", "http://localhost:5173")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("live.max_retries", live.DefaultMaxRetries)
	v.SetDefault("live.initial_backoff", live.DefaultInitialBackoff)
	v.SetDefault("live.max_backoff", live.DefaultMaxBackoff)
	v.SetDefault("live.ping_interval", 30*time.Second)
	v.SetDefault("live.max_frame_size", live.DefaultMaxFrameSize)
	v.SetDefault("live.resync_on_reconnect", false)
	v.SetDefault("metrics.addr", "")
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"base-url":  "base_url",
	"live-url":  "live_url",
	"share-url": "share_url",
	"log-level": "log.level",
	"log-file":  "log.file",
}

// RegisterFlags adds the flags Load understands to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.String("env-file", ".env", "dotenv file to load AMA_* variables from, if it exists")
	flags.String("base-url", "", "REST base url of the service (env AMA_BASE_URL)")
	flags.String("live-url", "", "websocket base url, derived from --base-url when empty (env AMA_LIVE_URL)")
	flags.String("share-url", "", "web address used when sharing a room (env AMA_SHARE_URL)")
	flags.String("log-level", "", "debug, info, warn or error (env AMA_LOG_LEVEL)")
	flags.String("log-file", "", "write logs to this file instead of stderr (env AMA_LOG_FILE)")
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	envFile := ".env"
	configFile := ""
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Live.InitialBackoff <= 0 || c.Live.MaxBackoff <= 0 {
		return fmt.Errorf("live backoff durations must be positive")
	}
	if c.Live.MaxFrameSize <= 0 {
		return fmt.Errorf("live.max_frame_size must be positive")
	}
	return nil
}

// LiveOptions converts the live section into subscriber options.
func (c *Config) LiveOptions() live.Options {
	return live.Options{
		MaxRetries:     c.Live.MaxRetries,
		InitialBackoff: c.Live.InitialBackoff,
		MaxBackoff:     c.Live.MaxBackoff,
		PingInterval:   c.Live.PingInterval,
		MaxFrameSize:   c.Live.MaxFrameSize,
	}
}

func ParseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
	return l, nil
}

// Logger builds the slog logger described by the log section. The returned closer releases the
// log file, if any. When quiet is set and no file is configured, logs are discarded; the
// interactive view owns the terminal.
func (c *Config) Logger(stderr io.Writer, quiet bool) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	out := stderr
	closer := func() error { return nil }
	switch {
	case c.Log.File != "":
		f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f.Close
	case quiet:
		out = io.Discard
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.Log.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer, nil
}
