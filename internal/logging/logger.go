package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides structured logging with redaction support
type Logger struct {
	entry      *logrus.Entry
	deprecated *sync.Map
}

// New creates a new logger instance writing to stderr
func New(debug, noColor bool) *Logger {
	return NewWithOutput(os.Stderr, debug, noColor)
}

// NewWithOutput creates a logger writing to out. Used by tests to capture output.
func NewWithOutput(out io.Writer, debug, noColor bool) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:    noColor,
		DisableTimestamp: true,
	})
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}

	return &Logger{
		entry:      logrus.NewEntry(base),
		deprecated: &sync.Map{},
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithOutput(io.Discard, false, true)
}

// With returns a logger carrying an additional field. Deprecation state is shared.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		entry:      l.entry.WithField(key, value),
		deprecated: l.deprecated,
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Deprecated logs a deprecation warning once per key for the lifetime of the logger
// and every logger derived from it.
func (l *Logger) Deprecated(key string, format string, args ...interface{}) {
	if _, seen := l.deprecated.LoadOrStore(key, struct{}{}); seen {
		return
	}
	l.entry.WithField("deprecation", key).Warnf(format, args...)
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Format keeps %v, %s and %q from leaking the value
func (s Secret) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, "[REDACTED]")
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
