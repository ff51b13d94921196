package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/platinummonkey/restaurant-iam/pkg/contextkeys"
)

// LogLevel is the minimum severity a Logger writes
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var slogLevels = [...]slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

func (l LogLevel) String() string {
	return slogLevels[l].String()
}

// ParseLogLevel reads IAM_LOG_LEVEL style values. Unknown values mean info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

// Logger writes JSON lines through slog. Derived loggers share the handler.
type Logger struct {
	slog *slog.Logger
}

func NewLogger(level LogLevel, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevels[level]})
	return &Logger{slog: slog.New(h)}
}

func NewNopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithError attaches err as the "error" field. A nil err is ignored.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.slog.Debug(msg) }
func (l *Logger) Info(msg string)  { l.slog.Info(msg) }
func (l *Logger) Warn(msg string)  { l.slog.Warn(msg) }
func (l *Logger) Error(msg string) { l.slog.Error(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.slog.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.slog.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.slog.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.slog.Error(fmt.Sprintf(format, args...)) }

func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger returns the logger stored in ctx, or an info level stdout logger
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext is GetLogger plus the request id, user id and trace ids of ctx
func FromContext(ctx context.Context) *Logger {
	var args []any
	if id := contextkeys.GetRequestID(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	if id := contextkeys.GetUserID(ctx); id != "" {
		args = append(args, "user_id", id)
	}
	logger := GetLogger(ctx)
	if len(args) > 0 {
		logger = logger.with(args...)
	}
	return UpdateLoggerWithTraceContext(ctx, logger)
}
