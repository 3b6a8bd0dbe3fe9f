// Package config declares the service configuration and its validation
// rules. Values come from a YAML file with environment variable expansion,
// then individual settings can be overridden through the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

// Config represents the application configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Engine  EngineConfig  `yaml:"engine"`
	Library LibraryConfig `yaml:"library"`
	Logging LoggingConfig `yaml:"logging"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// EngineConfig holds tick pacing, sampling and handback tolerances.
type EngineConfig struct {
	TickRate             int      `yaml:"tick_rate"`
	SampleInterval       float64  `yaml:"sample_interval"`
	PositionTolerance    float64  `yaml:"position_tolerance"`
	RotationToleranceDeg float64  `yaml:"rotation_tolerance_deg"`
	SettleTicks          int      `yaml:"settle_ticks"`
	SecondaryContainers  []string `yaml:"secondary_containers"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TickRate, validation.Required, validation.Min(1), validation.Max(240)),
		validation.Field(&c.SampleInterval, validation.Required, validation.Min(0.001), validation.Max(10.0)),
		validation.Field(&c.PositionTolerance, validation.Min(0.0)),
		validation.Field(&c.RotationToleranceDeg, validation.Min(0.0), validation.Max(180.0)),
		validation.Field(&c.SettleTicks, validation.Min(0), validation.Max(100)),
	)
}

// LibraryConfig holds the recordings catalog configuration.
type LibraryConfig struct {
	Dir       string `yaml:"dir"`
	IndexPath string `yaml:"index_path"`
	Watch     bool   `yaml:"watch"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// Log sink names.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
)

// LoggingConfig holds event router configuration.
type LoggingConfig struct {
	Sinks    []string `yaml:"sinks"`
	Severity string   `yaml:"severity"`
	JSONPath string   `yaml:"json_path"`
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Sinks, validation.Each(validation.In(SinkConsole, SinkJSON))),
	); err != nil {
		return err
	}
	if _, err := logging.ParseSeverity(c.Severity); err != nil {
		return err
	}
	if c.hasSink(SinkJSON) && c.JSONPath == "" {
		return fmt.Errorf("logging: sink %q requires json_path", SinkJSON)
	}
	return nil
}

func (c *LoggingConfig) hasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// RouterConfig translates the section into the event router's own config.
func (c *LoggingConfig) RouterConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.Sinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.Sinks...)
	}
	if severity, err := logging.ParseSeverity(c.Severity); err == nil {
		cfg.MinimumSeverity = severity
	}
	cfg.JSON.FilePath = c.JSONPath
	return cfg
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Engine: EngineConfig{
			TickRate:             20,
			SampleInterval:       0.1,
			PositionTolerance:    0.01,
			RotationToleranceDeg: 0.1,
			SettleTicks:          1,
			SecondaryContainers:  []string{"Replay"},
		},
		Library: LibraryConfig{
			Dir:   "./recordings",
			Watch: true,
		},
		Logging: LoggingConfig{
			Sinks:    []string{SinkConsole},
			Severity: "info",
		},
	}
}

// ApplyEnvOverrides lets individual settings be changed without editing the
// config file. Invalid values are logged and ignored.
func (c *Config) ApplyEnvOverrides(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	if raw := os.Getenv("HTTP_PORT"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			c.HTTP.Port = value
		} else {
			logger.Printf("invalid HTTP_PORT=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			c.Engine.TickRate = value
		} else {
			logger.Printf("invalid TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SAMPLE_INTERVAL"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Engine.SampleInterval = value
		} else {
			logger.Printf("invalid SAMPLE_INTERVAL=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("RECORDINGS_DIR"); raw != "" {
		c.Library.Dir = raw
	}
	if raw := os.Getenv("LIBRARY_WATCH"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			c.Library.Watch = value
		} else {
			logger.Printf("invalid LIBRARY_WATCH=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("LOG_SEVERITY"); raw != "" {
		c.Logging.Severity = raw
	}
}
