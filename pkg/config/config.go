package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Supported transports
const (
	TransportGoBLE  = "goble"
	TransportTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" toml:"log_level" default:""`
	Transport    string `yaml:"transport" toml:"transport" default:"goble"`
	Marker       string `yaml:"marker" toml:"marker" default:"LYWSD02"`
	OutputFormat string `yaml:"output_format" toml:"output_format" default:"table"`

	ScanDuration   time.Duration `yaml:"scan_duration" toml:"scan_duration" default:"10s"`
	ScanWindow     time.Duration `yaml:"scan_window" toml:"scan_window" default:"5s"`
	ScanPause      time.Duration `yaml:"scan_pause" toml:"scan_pause" default:"1s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout" default:"30s"`
	IOTimeout      time.Duration `yaml:"io_timeout" toml:"io_timeout" default:"5s"`

	EventBuffer int    `yaml:"event_buffer" toml:"event_buffer" default:"256"`
	HistorySize uint32 `yaml:"history_size" toml:"history_size" default:"512"`

	// Update defaults, overridable per command
	Offset   int    `yaml:"offset" toml:"offset" default:"0"`
	HalfHour bool   `yaml:"half_hour" toml:"half_hour" default:"false"`
	Unit     string `yaml:"unit" toml:"unit" default:"C"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (expected .yaml, .yml or .toml)", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Transport {
	case TransportGoBLE, TransportTinyGo:
	default:
		return fmt.Errorf("unknown transport %q (must be %s or %s)", c.Transport, TransportGoBLE, TransportTinyGo)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output format %q (must be table or json)", c.OutputFormat)
	}
	if c.Marker == "" {
		return fmt.Errorf("marker must not be empty")
	}
	if _, err := c.ParsedUnit(); err != nil {
		return err
	}
	if err := (protocol.Request{Offset: c.Offset}).Validate(); err != nil {
		return err
	}

	for name, d := range map[string]time.Duration{
		"scan_duration":   c.ScanDuration,
		"scan_window":     c.ScanWindow,
		"scan_pause":      c.ScanPause,
		"connect_timeout": c.ConnectTimeout,
		"io_timeout":      c.IOTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.EventBuffer <= 0 || c.HistorySize == 0 {
		return fmt.Errorf("event_buffer and history_size must be positive")
	}
	return nil
}

// Level parses LogLevel; empty means panic level (silent)
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// ParsedUnit returns Unit as a protocol.Unit
func (c *Config) ParsedUnit() (protocol.Unit, error) {
	return protocol.ParseUnit(c.Unit)
}

// ConnectOptions returns the connection timeouts for updates
func (c *Config) ConnectOptions() *device.ConnectOptions {
	return &device.ConnectOptions{
		ConnectTimeout: c.ConnectTimeout,
		IOTimeout:      c.IOTimeout,
	}
}

// BridgeOptions maps the configuration onto bridge.Options
func (c *Config) BridgeOptions(logger *logrus.Logger) bridge.Options {
	return bridge.Options{
		ScanWindow:     c.ScanWindow,
		ScanPause:      c.ScanPause,
		ConnectOptions: c.ConnectOptions(),
		EventBuffer:    c.EventBuffer,
		Logger:         logger,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
