package log

import (
	"fmt"
	"io"
	"time"

	"github.com/go-lynx/servicebase/plugins"
)

// SinkConfig is the config section of logging-default.
type SinkConfig struct {
	// Level defaults to debug outside production and info in production.
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`

	MaxSizeMB  int  `yaml:"maxSizeMB"`
	MaxBackups int  `yaml:"maxBackups"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
	Compress   bool `yaml:"compress"`

	BatchSize     int    `yaml:"batchSize"`
	FlushInterval string `yaml:"flushInterval"`
	Stack         bool   `yaml:"stack"`
}

// Validate implements plugins.Validator.
func (c *SinkConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
	if c.BatchSize < 0 || c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("sizes and counts must not be negative")
	}
	if c.FlushInterval != "" {
		if _, err := time.ParseDuration(c.FlushInterval); err != nil {
			return fmt.Errorf("flushInterval: %w", err)
		}
	}
	return nil
}

func (c *SinkConfig) options(appID string, mode plugins.Mode) Options {
	level := c.Level
	if level == "" {
		level = "info"
		if mode.Debug() {
			level = "debug"
		}
	}
	interval := time.Second
	if c.FlushInterval != "" {
		interval, _ = time.ParseDuration(c.FlushInterval)
	}
	return Options{
		AppID:         appID,
		Level:         level,
		Console:       c.Console,
		File:          c.File,
		MaxSizeMB:     c.MaxSizeMB,
		MaxBackups:    c.MaxBackups,
		MaxAgeDays:    c.MaxAgeDays,
		Compress:      c.Compress,
		BatchSize:     c.BatchSize,
		FlushInterval: interval,
		Stack:         c.Stack,
	}
}

// DefaultSink is the logging-default backend: a KratosSink over a process
// logger built from SinkConfig. It becomes the process logger too, so the
// package-level helpers share its output.
type DefaultSink struct {
	*KratosSink
	closer io.Closer
}

// NewDefaultSink builds the process logger for appID and mode.
func NewDefaultSink(appID string, mode plugins.Mode, cfg SinkConfig, out io.Writer) (*DefaultSink, error) {
	opts := cfg.options(appID, mode)
	opts.Output = out
	logger, closer, err := buildLogger(opts)
	if err != nil {
		return nil, err
	}
	install(logger)
	return &DefaultSink{KratosSink: NewKratosSink(logger), closer: closer}, nil
}

// Dispose flushes and closes the log file, if any.
func (s *DefaultSink) Dispose() {
	if err := s.closer.Close(); err != nil {
		Errorf("failed to close log file: %v", err)
	}
}
