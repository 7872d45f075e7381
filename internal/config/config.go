package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TERMINALD_SOCKET.
const EnvPrefix = "terminald"

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Socket is the Unix socket masters and slaves connect to.
	Socket string `yaml:"socket" default:"/tmp/terminald.sock"`

	// WebSocketAddr enables the websocket listener when non-empty.
	WebSocketAddr string `yaml:"websocket_addr"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// QueueCapacity bounds each message queue, in messages.
	QueueCapacity uint32 `yaml:"queue_capacity" default:"1024"`

	// CompressThreshold is the payload size above which frames are zstd
	// compressed. Zero disables compression.
	CompressThreshold int `yaml:"compress_threshold" default:"4096"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, then the optional YAML file at
// path, then TERMINALD_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides mirrors Config with pointers so that only variables which are
// actually set override the file. envconfig would otherwise re-apply the
// default tags.
type envOverrides struct {
	LogLevel          *string        `envconfig:"LOG_LEVEL"`
	Socket            *string        `envconfig:"SOCKET"`
	WebSocketAddr     *string        `envconfig:"WEBSOCKET_ADDR"`
	MetricsAddr       *string        `envconfig:"METRICS_ADDR"`
	QueueCapacity     *uint32        `envconfig:"QUEUE_CAPACITY"`
	CompressThreshold *int           `envconfig:"COMPRESS_THRESHOLD"`
	ShutdownTimeout   *time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	set(&cfg.LogLevel, env.LogLevel)
	set(&cfg.Socket, env.Socket)
	set(&cfg.WebSocketAddr, env.WebSocketAddr)
	set(&cfg.MetricsAddr, env.MetricsAddr)
	set(&cfg.QueueCapacity, env.QueueCapacity)
	set(&cfg.CompressThreshold, env.CompressThreshold)
	set(&cfg.ShutdownTimeout, env.ShutdownTimeout)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks values that cannot be caught by parsing.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Socket == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.CompressThreshold < 0 {
		return fmt.Errorf("compress threshold must not be negative")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
