// Package config loads tracegraph settings from a YAML file, an optional
// .env file and TRACEGRAPH_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete tracegraph configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	EventLog EventLogConfig `yaml:"eventLog"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// EventLogConfig controls the per-application JSON-lines log.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type MonitorConfig struct {
	// BatchSize is the number of buffered records that triggers a flush.
	BatchSize int `yaml:"batchSize"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:2719",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		EventLog: EventLogConfig{
			Enabled: true,
			Dir:     ".tracegraph",
		},
		Monitor: MonitorConfig{
			BatchSize: 512,
		},
	}
}

type loadOptions struct {
	envFile string
	lookup  func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile sets the .env file to read. A missing file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// WithLookup replaces os.LookupEnv as the source of environment variables.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty), then the .env file, then the process environment.
func Load(path string, opts ...Option) (Config, error) {
	o := loadOptions{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if o.envFile != "" {
		m, err := godotenv.Read(o.envFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config: read %s: %w", o.envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := o.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const envPrefix = "TRACEGRAPH_"

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok
	}

	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sSHUTDOWN_TIMEOUT: %w", envPrefix, err)
		}
		c.Server.ShutdownTimeout = d
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = strings.ToLower(v)
	}
	if v, ok := get("EVENTLOG_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sEVENTLOG_ENABLED: %w", envPrefix, err)
		}
		c.EventLog.Enabled = b
	}
	if v, ok := get("EVENTLOG_DIR"); ok {
		c.EventLog.Dir = v
	}
	if v, ok := get("BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sBATCH_SIZE: %w", envPrefix, err)
		}
		c.Monitor.BatchSize = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server.shutdownTimeout must be positive", ErrInvalid)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	if c.EventLog.Enabled && c.EventLog.Dir == "" {
		return fmt.Errorf("%w: eventLog.dir is required when the event log is enabled", ErrInvalid)
	}
	if c.Monitor.BatchSize < 0 {
		return fmt.Errorf("%w: monitor.batchSize must not be negative", ErrInvalid)
	}
	return nil
}

// NewLogger builds the logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
}
