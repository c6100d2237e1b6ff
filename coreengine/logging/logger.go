// Package logging provides the structured logger used across the workflow engine.
// It wraps Go's log/slog package; events are snake_case names with
// alternating key-value fields.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Formats supported by the logger
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// SlogLogger implements Logger on top of slog. It is safe for concurrent use.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a logger writing to w in the given format ("json" or "text")
// at the given level. A nil writer means stderr.
func New(w io.Writer, level, format string) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, FormatText) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler)}
}

// ParseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Bind returns a child logger that adds fields to every entry.
func (l *SlogLogger) Bind(fields ...any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &SlogLogger{logger: l.logger.With(fields...)}
}

func (l *SlogLogger) Debug(msg string, fields ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, fields...)
}

func (l *SlogLogger) Info(msg string, fields ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, fields...)
}

func (l *SlogLogger) Warn(msg string, fields ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, fields...)
}

func (l *SlogLogger) Error(msg string, fields ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, fields...)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) Bind(...any) Logger { return n }
