// Package logger provides structured logging setup for the service.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hibiken/asynq"
)

// New creates a JSON *slog.Logger writing to stdout and makes it the default.
func New(level, env string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, env)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	l := slog.New(handler).With("service", "docuprompt", "env", env)
	slog.SetDefault(l)
	return l
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AsynqLevel maps the service log level onto asynq's.
func AsynqLevel(s string) asynq.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// AsynqLogger routes asynq's internal logging through slog.
type AsynqLogger struct {
	log *slog.Logger
}

// NewAsynqLogger wraps l for use as asynq.Config.Logger.
func NewAsynqLogger(l *slog.Logger) *AsynqLogger {
	return &AsynqLogger{log: l.With("component", "asynq")}
}

func (a *AsynqLogger) Debug(args ...interface{}) { a.log.Debug(fmt.Sprint(args...)) }
func (a *AsynqLogger) Info(args ...interface{})  { a.log.Info(fmt.Sprint(args...)) }
func (a *AsynqLogger) Warn(args ...interface{})  { a.log.Warn(fmt.Sprint(args...)) }
func (a *AsynqLogger) Error(args ...interface{}) { a.log.Error(fmt.Sprint(args...)) }

// Fatal logs at error level and exits, matching asynq's expectation.
func (a *AsynqLogger) Fatal(args ...interface{}) {
	a.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}
