package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying manager fields.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger builds a logger writing to cfg.Output.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return &Logger{zlog: zerolog.New(w).Level(level).With().Timestamp().Logger()}, nil
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying logger for packages that log through zerolog
// directly.
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

// WithContext stores l in ctx, where zerolog.Ctx finds it.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zlog.WithContext(ctx)
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields adds several fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithObject tags the logger with the object a command works on.
func (l *Logger) WithObject(objectType string, id int64) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("object_type", objectType).Int64("object_id", id)
	})
}

// WithTask tags the logger with a task and its correlation id.
func (l *Logger) WithTask(taskID int64, correlationID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		c = c.Int64("task_id", taskID)
		if correlationID != "" {
			c = c.Str("correlation_id", correlationID)
		}
		return c
	})
}

func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
