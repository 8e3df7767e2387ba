// Logger construction and a small field-carrying wrapper, layered over
// the base logging setup in logging.go. Every subsystem receives an
// injected logrus entry built through NewLogger; ContextLogger is the
// immutable-chaining variant for callers that accumulate fields across
// a call path.
package common

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel names the levels NewLogger accepts.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Service string // name of the calling service; NewLogger does not add it to entries
}

// NewLogger builds a logrus logger routed through the OutputSplitter,
// at the requested level and format.
func NewLogger(config LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}
	logger.SetOutput(&OutputSplitter{})
	return logger
}

// ContextLogger carries a fixed field set; the With* methods return a
// new logger rather than mutating the receiver, so a base logger can be
// shared across goroutines and specialized per call path.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger (nil falls back to the package Logger)
// with a base field set.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) derive(extra logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(extra))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.derive(logrus.Fields{key: value})
}

func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	extra := make(logrus.Fields, len(fields))
	for k, v := range fields {
		extra[k] = v
	}
	return cl.derive(extra)
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.derive(logrus.Fields{"error": err.Error()})
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }
