package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// MaxEventBuffer caps the per-subscriber event buffer.
const MaxEventBuffer = 1 << 20

var (
	validBackends = []string{BackendGoBLE, BackendTinyGo}
	validFormats  = []string{"table", "json"}
)

// Config holds application configuration
type Config struct {
	LogLevel           string        `yaml:"log_level" json:"log_level" default:"info"`
	Backend            string        `yaml:"backend" json:"backend" default:"goble"`
	Adapter            string        `yaml:"adapter" json:"adapter"`
	EventBuffer        uint32        `yaml:"event_buffer" json:"event_buffer" default:"256"`
	NotificationBuffer int           `yaml:"notification_buffer" json:"notification_buffer" default:"128"`
	ScanTimeout        time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	OutputFormat       string        `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !slices.Contains(validBackends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend: %q is not one of %v", c.Backend, validBackends))
	}
	if c.EventBuffer == 0 || c.EventBuffer > MaxEventBuffer {
		errs = append(errs, fmt.Errorf("event_buffer: %d is outside 1..%d", c.EventBuffer, MaxEventBuffer))
	}
	if c.NotificationBuffer <= 0 {
		errs = append(errs, fmt.Errorf("notification_buffer: must be positive, got %d", c.NotificationBuffer))
	}
	if c.ScanTimeout < 0 {
		errs = append(errs, fmt.Errorf("scan_timeout: must not be negative"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout: must be positive"))
	}
	if !slices.Contains(validFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format: %q is not one of %v", c.OutputFormat, validFormats))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, InfoLevel when it does not parse.
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
