// Package logx provides structured, leveled logging for every component of the
// orchestration engine. It wraps zerolog so call sites keep the printf-style
// ergonomics the rest of the codebase expects while every record on the wire
// is a structured JSON line keyed by component and, where relevant, run/worker ID.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels with the names used across the codebase.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelInfo:
		fallthrough
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a component-scoped structured logger. The zero value is not
// usable; construct one with NewLogger.
type Logger struct {
	base      zerolog.Logger
	component string
}

var (
	globalMu    sync.RWMutex
	globalLevel = LevelInfo
	globalOut   io.Writer = os.Stderr
)

// SetGlobalLevel changes the minimum level for all loggers created after the call.
// Loggers already constructed keep the level they were created with.
func SetGlobalLevel(l Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = l
}

// SetOutput redirects all future logger output (used by tests). Never write structured logs to the host CLI's stdout directly;
// route everything through this package instead.
func SetOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalOut = w
}

// NewLogger creates a logger scoped to a component name (e.g. an agent ID, a
// worker ID, or a package name such as "quality-gate").
func NewLogger(component string) *Logger {
	globalMu.RLock()
	out := globalOut
	lvl := globalLevel
	globalMu.RUnlock()

	zl := zerolog.New(out).
		Level(lvl.zerolog()).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	return &Logger{base: zl, component: component}
}

// With returns a child logger with additional structured fields attached to
// every subsequent record (e.g. runID, workerID).
func (l *Logger) With(fields map[string]string) *Logger {
	ctx := l.base.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return &Logger{base: ctx.Logger(), component: l.component}
}

func (l *Logger) Debug(format string, args ...any) { l.log(zerolog.DebugLevel, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(zerolog.InfoLevel, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(zerolog.WarnLevel, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(zerolog.ErrorLevel, format, args...) }

func (l *Logger) log(level zerolog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.base.WithLevel(level).Msg(msg)
}

// contextKey is an unexported type for context values defined in this package.
type contextKey string

const loggerContextKey contextKey = "logx.logger"

// WithContext attaches a logger to a context so deep call chains (tool
// dispatch, container lifecycle callbacks) don't need the logger threaded
// through every signature.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

// FromContext returns the logger attached by WithContext, or a fresh
// "unscoped" logger if none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey).(*Logger); ok && l != nil {
		return l
	}
	return NewLogger("unscoped")
}

// ParseLevel converts a case-insensitive level string (e.g. from config or an
// env var) into a Level, defaulting to LevelInfo for unrecognized input.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(LevelDebug):
		return LevelDebug
	case string(LevelWarn):
		return LevelWarn
	case string(LevelError):
		return LevelError
	default:
		return LevelInfo
	}
}

// StartupTimestamp returns the current time (it is time.Now).
var StartupTimestamp = time.Now
