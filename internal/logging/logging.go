package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug logs per-line parse skips and watcher transitions.
	LevelDebug Level = iota
	// LevelInfo logs scans and connections.
	LevelInfo
	// LevelWarn logs per-file failures.
	LevelWarn
	// LevelError logs subsystem failures only.
	LevelError
	// LevelOff disables all logging.
	LevelOff
)

// Logger wraps slog with a level gate that short-circuits when disabled.
type Logger struct {
	slog  *slog.Logger
	level Level
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{level: LevelOff}
}

// New creates a logger writing text records at or above level to w.
func New(level Level, w io.Writer) *Logger {
	if level == LevelOff {
		return Nop()
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: toSlog(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time()
				a.Value = slog.StringValue(t.Format("15:04:05.000"))
			}
			return a
		},
	}

	return &Logger{
		slog:  slog.New(slog.NewTextHandler(w, opts)),
		level: level,
	}
}

// FromEnv builds a logger from LOG_LEVEL, falling back to fallback when unset.
func FromEnv(fallback Level) *Logger {
	level, ok := ParseLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		level = fallback
	}
	return New(level, os.Stderr)
}

// ParseLevel accepts debug, info, warn/warning, error and off in any case.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "OFF", "NONE":
		return LevelOff, true
	}
	return LevelInfo, false
}

func toSlog(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && l.slog != nil && l.level != LevelOff && l.level <= level
}

func (l *Logger) Debug(msg string, args ...any) {
	if l.enabled(LevelDebug) {
		l.slog.Debug(msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l.enabled(LevelInfo) {
		l.slog.Info(msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l.enabled(LevelWarn) {
		l.slog.Warn(msg, args...)
	}
}

func (l *Logger) Error(msg string, args ...any) {
	if l.enabled(LevelError) {
		l.slog.Error(msg, args...)
	}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.slog == nil {
		return l
	}
	return &Logger{slog: l.slog.With(args...), level: l.level}
}
