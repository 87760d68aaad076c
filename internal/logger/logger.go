// Package logger provides structured logging for boltindex
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with pipeline-specific helpers.
// A nil *Logger is valid and discards everything.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

var nop = zerolog.Nop()

// NewLogger creates a new structured logger
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
	case "disabled":
		level = zerolog.Disabled
	}

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
		Level(level).
		With().
		Timestamp().
		Str("service", "boltindex").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards all output
func Nop() *Logger {
	return &Logger{zlog: nop}
}

func (l *Logger) z() *zerolog.Logger {
	if l == nil {
		return &nop
	}
	return &l.zlog
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return l.z()
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.z().Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.z().Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.z().Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.z().Error().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.z().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// GrpcLogger returns a logger for gRPC operations
func (l *Logger) GrpcLogger(method string) *Logger {
	return &Logger{
		zlog: l.z().With().
			Str("component", "grpc").
			Str("method", method).
			Logger(),
	}
}

// StageLogger returns a logger for one pipeline stage
func (l *Logger) StageLogger(stage string) *Logger {
	return &Logger{
		zlog: l.z().With().
			Str("component", "pipeline").
			Str("stage", stage).
			Logger(),
	}
}

// StorageLogger returns a logger for storage backend operations
func (l *Logger) StorageLogger(operation string) *Logger {
	return &Logger{
		zlog: l.z().With().
			Str("component", "storage").
			Str("operation", operation).
			Logger(),
	}
}

// LogGrpcRequest logs a gRPC request with structured fields
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	z := l.z()
	event := z.Info().
		Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration)

	if err != nil {
		event = z.Error().
			Str("component", "grpc").
			Str("method", method).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("gRPC request completed")
}

// LogStage logs completion of a pipeline stage for one document
func (l *Logger) LogStage(stage, documentID string, duration time.Duration, nodes int, err error) {
	z := l.z()
	event := z.Debug().
		Str("component", "pipeline").
		Str("stage", stage).
		Str("document_id", documentID).
		Dur("duration_ms", duration).
		Int("node_count", nodes)

	if err != nil {
		event = z.Error().
			Str("component", "pipeline").
			Str("stage", stage).
			Str("document_id", documentID).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Stage completed")
}

// LogUpdate logs the outcome of a document update
func (l *Logger) LogUpdate(documentID, revisionID string, regenerated, preserved int, full bool, err error) {
	z := l.z()
	if err != nil {
		z.Error().
			Str("event", "update_failed").
			Str("document_id", documentID).
			Err(err).
			Msg("Update aborted, previous revision kept")
		return
	}
	z.Info().
		Str("event", "update_committed").
		Str("document_id", documentID).
		Str("revision_id", revisionID).
		Int("regenerated", regenerated).
		Int("preserved", preserved).
		Bool("full_rebuild", full).
		Msg("Revision committed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, backend string) {
	l.z().Info().
		Str("event", "server_start").
		Int("port", port).
		Str("storage", backend).
		Msg("boltindex server starting")
}

// LogServerReady logs when server is ready
func (l *Logger) LogServerReady(port int) {
	l.z().Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("boltindex server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.z().Info().
		Str("event", "server_shutdown").
		Msg("boltindex server shutting down")
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
