package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Global configuration for all loggers
var (
	globalLogLevel  LogLevel = LevelInfo
	globalLogFormat string   = "json"
	globalMutex     sync.RWMutex
)

// SetGlobalConfig sets the global logging configuration for all new loggers
func SetGlobalConfig(level LogLevel, format string) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalLogLevel = level
	globalLogFormat = format
}

// Logger wraps zerolog.Logger with additional functionality for structured logging
type Logger struct {
	zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// timeFormat is used for both JSON and console output
const timeFormat = "2006-01-02T15:04:05.000Z"

// NewWithFormat creates a Logger for component. Every line carries the
// component name so Lambda and daemon logs can be filtered the same way.
func NewWithFormat(component string, level LogLevel, format string) *Logger {
	zerolog.TimeFieldFormat = timeFormat

	logger := zerolog.New(newWriter(format)).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", "autodeploy").
		Str("component", component).
		Logger()

	return &Logger{Logger: logger}
}

// parseLevel maps a configured level onto zerolog, defaulting to info
func parseLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// newWriter returns stdout, wrapped in a console writer for text output
func newWriter(format string) io.Writer {
	if !useConsole(format) {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: timeFormat,
	}
}

// useConsole reports whether to write human-readable lines. An explicit
// format wins, then LOG_FORMAT; otherwise a terminal gets console output.
func useConsole(format string) bool {
	for _, f := range []string{format, os.Getenv("LOG_FORMAT")} {
		switch strings.ToLower(f) {
		case "text", "console":
			return true
		case "json":
			return false
		}
	}

	if fileInfo, err := os.Stdout.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// NewDefault creates a logger with default settings (info level)
func NewDefault(component string) *Logger {
	globalMutex.RLock()
	level := globalLogLevel
	format := globalLogFormat
	globalMutex.RUnlock()

	return NewWithFormat(component, level, format)
}

// Debug logs a debug message with structured fields
func (l *Logger) Debug(msg string, fields ...interface{}) {
	event := l.Logger.Debug()
	l.addFields(event, fields...)
	event.Msg(msg)
}

// Info logs an info message with structured fields
func (l *Logger) Info(msg string, fields ...interface{}) {
	event := l.Logger.Info()
	l.addFields(event, fields...)
	event.Msg(msg)
}

// Warn logs a warning message with structured fields
func (l *Logger) Warn(msg string, fields ...interface{}) {
	event := l.Logger.Warn()
	l.addFields(event, fields...)
	event.Msg(msg)
}

// Error logs an error message with structured fields
func (l *Logger) Error(msg string, fields ...interface{}) {
	event := l.Logger.Error()
	l.addFields(event, fields...)
	event.Msg(msg)
}

type invocationKey struct{}

// ContextWithInvocationID tags ctx with the id of the event being handled
func ContextWithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the invocation id stored on ctx, if any
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// WithContext returns a new logger carrying the invocation id from ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zctx := l.Logger.With()
	if id := InvocationID(ctx); id != "" {
		zctx = zctx.Str("invocation_id", id)
	}
	return &Logger{Logger: zctx.Logger()}
}

// WithFields returns a new logger with additional default fields
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	event := l.addFieldsToContext(l.Logger.With(), fields...)
	return &Logger{Logger: event.Logger()}
}

// addFields adds key-value pairs to a zerolog event
func (l *Logger) addFields(event *zerolog.Event, fields ...interface{}) {
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			value := fields[i+1]

			switch v := value.(type) {
			case string:
				event.Str(key, v)
			case int:
				event.Int(key, v)
			case int64:
				event.Int64(key, v)
			case float64:
				event.Float64(key, v)
			case bool:
				event.Bool(key, v)
			case error:
				event.Err(v)
			default:
				event.Interface(key, v)
			}
		}
	}
}

// addFieldsToContext adds key-value pairs to a zerolog context
func (l *Logger) addFieldsToContext(ctx zerolog.Context, fields ...interface{}) zerolog.Context {
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			value := fields[i+1]

			switch v := value.(type) {
			case string:
				ctx = ctx.Str(key, v)
			case int:
				ctx = ctx.Int(key, v)
			case int64:
				ctx = ctx.Int64(key, v)
			case float64:
				ctx = ctx.Float64(key, v)
			case bool:
				ctx = ctx.Bool(key, v)
			case error:
				ctx = ctx.AnErr(key, v)
			default:
				ctx = ctx.Interface(key, v)
			}
		}
	}
	return ctx
}

// LogEpisodeStart logs the start of an isolation episode
func (l *Logger) LogEpisodeStart(instanceID, suffix, strategy, deploymentGroup string) {
	l.Info("Isolation episode started",
		"instance_id", instanceID,
		"suffix", suffix,
		"strategy", strategy,
		"deployment_group", deploymentGroup,
		"event_type", "episode_start",
	)
}

// LogDeploymentTriggered logs a deployment created against an isolated instance
func (l *Logger) LogDeploymentTriggered(deploymentID, instanceID, deploymentGroup string) {
	l.Info("Deployment triggered",
		"deployment_id", deploymentID,
		"instance_id", instanceID,
		"deployment_group", deploymentGroup,
		"event_type", "deployment_triggered",
	)
}

// LogRestoreFailure logs a cleanup step that failed, with enough identifying
// context for an operator to finish the cleanup by hand
func (l *Logger) LogRestoreFailure(step string, err error, context ...interface{}) {
	fields := []interface{}{
		"step", step,
		"error", err.Error(),
		"event_type", "restore_failure",
		"remediation", "manual cleanup required",
	}
	fields = append(fields, context...)

	l.Error("Restoration step failed", fields...)
}

// LogError logs error details with sufficient context for troubleshooting
func (l *Logger) LogError(operation string, err error, context ...interface{}) {
	fields := []interface{}{
		"operation", operation,
		"error", err.Error(),
		"event_type", "error",
	}

	// Add additional context fields
	fields = append(fields, context...)

	l.Error("Operation failed", fields...)
}
