package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// StructuredLogger writes ELK-compatible JSON log lines.
//
// Design Principles:
// - JSON structured output for easy parsing
// - Standard fields (@timestamp, level, message)
// - Thread-safe logging
// - Context fields (session_id, stage, key_index) routed to dedicated keys
type StructuredLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	minLevel LogLevel
	fields   map[string]interface{}
}

// LogLevel represents logging severity levels.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LogEntry is a single log line in ELK-compatible format.
type LogEntry struct {
	Timestamp string                 `json:"@timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Logger    string                 `json:"logger,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorType string                 `json:"error_type,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewStructuredLogger creates a new structured logger.
func NewStructuredLogger(writer io.Writer, minLevel LogLevel) *StructuredLogger {
	if writer == nil {
		writer = os.Stdout
	}
	hostname, _ := os.Hostname()
	return &StructuredLogger{
		writer:   writer,
		minLevel: minLevel,
		fields: map[string]interface{}{
			"service": "deepresearch",
			"host":    hostname,
		},
	}
}

// NewDefaultLogger creates a logger with INFO level to stdout.
func NewDefaultLogger() *StructuredLogger {
	return NewStructuredLogger(os.Stdout, InfoLevel)
}

// SetMinLevel sets the minimum log level.
func (l *StructuredLogger) SetMinLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// WithField adds a global field to all log entries.
func (l *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields[key] = value
	return l
}

// Debug logs a debug-level message.
func (l *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DebugLevel, message, nil, fields...)
}

// Info logs an info-level message.
func (l *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	l.log(InfoLevel, message, nil, fields...)
}

// Warn logs a warning-level message.
func (l *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WarnLevel, message, nil, fields...)
}

// Error logs an error-level message.
func (l *StructuredLogger) Error(message string, err error, fields ...map[string]interface{}) {
	l.log(ErrorLevel, message, err, fields...)
}

func (l *StructuredLogger) log(level LogLevel, message string, err error, fields ...map[string]interface{}) {
	l.mu.Lock()
	if level < l.minLevel {
		l.mu.Unlock()
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   message,
		Logger:    "deepresearch",
		Fields:    make(map[string]interface{}, len(l.fields)),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.Unlock()

	for _, fieldMap := range fields {
		for k, v := range fieldMap {
			switch k {
			case "session_id":
				if sessionID, ok := v.(string); ok {
					entry.SessionID = sessionID
					continue
				}
			case "stage":
				if stage, ok := v.(fmt.Stringer); ok {
					entry.Stage = stage.String()
					continue
				}
				if stage, ok := v.(string); ok {
					entry.Stage = stage
					continue
				}
			}
			entry.Fields[k] = v
		}
	}

	if err != nil {
		entry.Error = err.Error()
		entry.ErrorType = fmt.Sprintf("%T", err)
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		l.mu.Lock()
		fmt.Fprintf(l.writer, "{\"error\":\"failed to encode log entry\",\"original_message\":%q}\n", message)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// LoggerContext provides contextual logging with pre-set fields, typically
// the session id.
type LoggerContext struct {
	logger *StructuredLogger
	fields map[string]interface{}
}

// NewContext creates a new logger context with pre-set fields.
func (l *StructuredLogger) NewContext(fields map[string]interface{}) *LoggerContext {
	return &LoggerContext{logger: l, fields: fields}
}

// Debug logs a debug-level message with context fields.
func (lc *LoggerContext) Debug(message string, fields ...map[string]interface{}) {
	lc.logger.Debug(message, lc.mergeFields(fields...))
}

// Info logs an info-level message with context fields.
func (lc *LoggerContext) Info(message string, fields ...map[string]interface{}) {
	lc.logger.Info(message, lc.mergeFields(fields...))
}

// Warn logs a warning-level message with context fields.
func (lc *LoggerContext) Warn(message string, fields ...map[string]interface{}) {
	lc.logger.Warn(message, lc.mergeFields(fields...))
}

// Error logs an error-level message with context fields.
func (lc *LoggerContext) Error(message string, err error, fields ...map[string]interface{}) {
	lc.logger.Error(message, err, lc.mergeFields(fields...))
}

func (lc *LoggerContext) mergeFields(fields ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(lc.fields))
	for k, v := range lc.fields {
		merged[k] = v
	}
	for _, fieldMap := range fields {
		for k, v := range fieldMap {
			merged[k] = v
		}
	}
	return merged
}

var defaultLogger = NewDefaultLogger()

// SetDefaultLogger sets the global default logger.
func SetDefaultLogger(logger *StructuredLogger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger.
func GetDefaultLogger() *StructuredLogger {
	return defaultLogger
}

// Debug logs to the default logger.
func Debug(message string, fields ...map[string]interface{}) {
	defaultLogger.Debug(message, fields...)
}

// Info logs to the default logger.
func Info(message string, fields ...map[string]interface{}) {
	defaultLogger.Info(message, fields...)
}

// Warn logs to the default logger.
func Warn(message string, fields ...map[string]interface{}) {
	defaultLogger.Warn(message, fields...)
}

// Error logs to the default logger.
func Error(message string, err error, fields ...map[string]interface{}) {
	defaultLogger.Error(message, err, fields...)
}
