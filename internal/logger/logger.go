package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config holds logger configuration
type Config struct {
	Level     string `yaml:"level"` // debug, info, warn, error
	Component string // Component name for context
}

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
}

type field struct {
	key   string
	value any
}

// Logger is a leveled component logger with optional key=value fields.
// Derived loggers (WithComponent, With, WithRequestID) share level and output.
type Logger struct {
	sink      *sink
	component string
	requestID string
	fields    []field
}

var (
	defaultLogger = New(&Config{Level: "info", Component: "repostalker"})
	defaultMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	component := cfg.Component
	if component == "" {
		component = "repostalker"
	}
	return &Logger{
		sink:      &sink{level: ParseLevel(cfg.Level), output: os.Stderr},
		component: component,
	}
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// SetLevel sets the minimum logging level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

func (l *Logger) derive() *Logger {
	fields := make([]field, len(l.fields))
	copy(fields, l.fields)
	return &Logger{
		sink:      l.sink,
		component: l.component,
		requestID: l.requestID,
		fields:    fields,
	}
}

// WithComponent returns a logger with a different component name
func (l *Logger) WithComponent(component string) *Logger {
	child := l.derive()
	child.component = component
	return child
}

// WithRequestID returns a logger that tags every line with the request (trace) id
func (l *Logger) WithRequestID(requestID string) *Logger {
	child := l.derive()
	child.requestID = requestID
	return child
}

// With returns a logger that appends key=value to every line
func (l *Logger) With(key string, value any) *Logger {
	child := l.derive()
	child.fields = append(child.fields, field{key: key, value: value})
	return child
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteByte(' ')
	sb.WriteString(level.String())
	sb.WriteString(" [")
	sb.WriteString(l.component)
	sb.WriteByte(']')
	if l.requestID != "" {
		sb.WriteString(" [")
		sb.WriteString(l.requestID)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(fmt.Sprintf(format, args...))
	for _, f := range l.fields {
		sb.WriteByte(' ')
		sb.WriteString(f.key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(f.value))
	}
	sb.WriteByte('\n')

	l.sink.output.Write([]byte(sb.String()))
}

// formatValue quotes values containing whitespace so lines stay parseable
func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// Package-level functions that use the default logger

// SetDefaultLogger sets the package-level default logger
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the package-level default logger
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named returns a component logger derived from the current default logger
func Named(component string) *Logger {
	return GetDefaultLogger().WithComponent(component)
}

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	GetDefaultLogger().SetLevel(level)
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...any) {
	GetDefaultLogger().Debug(format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...any) {
	GetDefaultLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...any) {
	GetDefaultLogger().Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...any) {
	GetDefaultLogger().Error(format, args...)
}
