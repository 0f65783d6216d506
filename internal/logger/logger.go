// Package logger provides structured logging for the amidb storage engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific convenience methods.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "amidb").
		Str("instance_id", uuid.New().String()).
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// PagerLogger returns a logger scoped to pager operations.
func (l *Logger) PagerLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "pager").Logger()}
}

// CacheLogger returns a logger scoped to page cache operations.
func (l *Logger) CacheLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "cache").Logger()}
}

// BTreeLogger returns a logger scoped to B+Tree operations.
func (l *Logger) BTreeLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "btree").Logger()}
}

// CatalogLogger returns a logger scoped to catalog collaborator operations.
func (l *Logger) CatalogLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "catalog").Logger()}
}

// WALLogger returns a logger scoped to write-ahead log operations.
func (l *Logger) WALLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "wal").Logger()}
}

// TxnLogger returns a logger scoped to transaction manager operations.
func (l *Logger) TxnLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "txn").Logger()}
}

// LogRecovery logs the outcome of a WAL recovery pass.
func (l *Logger) LogRecovery(committed, replayed int, dur time.Duration) {
	l.zlog.Info().
		Str("event", "recovery_complete").
		Int("committed_txns", committed).
		Int("pages_replayed", replayed).
		Dur("duration_ms", dur).
		Msg("WAL recovery complete")
}

// LogCorruption logs a detected corruption event at a given page.
func (l *Logger) LogCorruption(pageNo uint32, reason string) {
	l.zlog.Error().
		Str("event", "corruption_detected").
		Uint32("page", pageNo).
		Str("reason", reason).
		Msg("page corruption detected")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance, initializing it with
// defaults on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
