// Package logging provides the CLI logger: a printf-style facade over zap
// that also hands the underlying *zap.Logger to library packages.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Name is the logger name attached to every entry.
const Name = "secretstage"

// Logger provides structured logging with redaction support
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

// New creates a logger writing human-readable lines to stderr.
func New(debug, noColor bool) *Logger {
	return NewWriter(os.Stderr, debug, noColor)
}

// NewWriter creates a logger writing human-readable lines to w.
func NewWriter(w io.Writer, debug, noColor bool) *Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	encoderCfg.CallerKey = ""
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if noColor {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return FromZap(zap.New(core))
}

// NewNop creates a logger that discards everything.
func NewNop() *Logger {
	return FromZap(zap.NewNop())
}

// FromZap wraps an existing zap logger, for applications that already have
// one configured.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	z = z.Named(Name)
	return &Logger{zap: z, sugar: z.Sugar()}
}

// Zap returns the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
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

// Field returns a zap field that logs s redacted.
func (s Secret) Field(key string) zap.Field {
	return zap.Stringer(key, s)
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
