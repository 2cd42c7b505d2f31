package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with optional secret redaction.
// It is passed explicitly to the components that need it; there is no
// package-level default.
type Logger struct {
	zl        zerolog.Logger
	redactPII bool
}

// Config selects the level, output format and redaction behavior.
type Config struct {
	Level     string // debug, info, warn, error
	Console   bool   // human-readable output instead of JSON
	RedactPII bool
}

// New builds a Logger writing to stderr.
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a Logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	out := w
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{zl: zl, redactPII: cfg.RedactPII}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying the given key-value pairs on every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	ctx := l.zl.With()
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		ctx = ctx.Str(key, l.value(key, fields[i+1]))
	}
	return &Logger{zl: ctx.Logger(), redactPII: l.redactPII}
}

// Debug emits a DEBUG-level structured log entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zerolog.DebugLevel, msg, fields...) }

// Info emits an INFO-level structured log entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(zerolog.InfoLevel, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(zerolog.WarnLevel, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zerolog.ErrorLevel, msg, fields...) }

// Zerolog exposes the underlying logger for libraries that accept one.
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zl
}

func (l *Logger) log(level zerolog.Level, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	e := l.zl.WithLevel(level)
	if e == nil {
		return
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case error:
			if v != nil {
				e.Str(key, l.redact(key, v.Error()))
			}
		case int:
			e.Int(key, v)
		case int64:
			e.Int64(key, v)
		case bool:
			e.Bool(key, v)
		case time.Duration:
			e.Dur(key, v)
		case time.Time:
			e.Time(key, v)
		default:
			e.Str(key, l.value(key, v))
		}
	}
	e.Msg(msg)
}

func (l *Logger) value(key string, v interface{}) string {
	return l.redact(key, fmt.Sprintf("%v", v))
}

func (l *Logger) redact(key, val string) string {
	if !l.redactPII {
		return val
	}
	return redactPIIValue(key, val)
}
