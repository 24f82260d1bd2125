// Package logger provides component-scoped, printf-style logging for the CFA console.
//
// Every long-lived component obtains its own logger through NewComponentLogger so that
// each line carries the component name:
//
//	2006-01-02 15:04:05.000 [INFO] [Synchronizer] loop.go:88: primary tick applied
//
// The global logger is configured once at startup by Initialize (stdout plus an optional
// log file) or InitializeWriter (any io.Writer, used by tests). Loggers created before
// initialization fall back to stdout at INFO.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
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

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes leveled messages tagged with a component name
type Logger struct {
	component string
	level     LogLevel
	output    io.Writer
	mu        *sync.Mutex
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Initialize sets up the global logger. Output always goes to stdout; when logFile is
// non-empty it is also appended to that file.
func Initialize(logFile string, level string) error {
	if logFile == "" {
		return InitializeWriter(os.Stdout, level)
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	return InitializeWriter(io.MultiWriter(os.Stdout, file), level)
}

// InitializeWriter sets up the global logger on an arbitrary writer
func InitializeWriter(w io.Writer, level string) error {
	if w == nil {
		return fmt.Errorf("log writer cannot be nil")
	}

	globalMu.Lock()
	globalLogger = &Logger{
		component: "main",
		level:     ParseLogLevel(level),
		output:    w,
		mu:        &sync.Mutex{},
	}
	globalMu.Unlock()

	return nil
}

// NewComponentLogger creates a logger for a specific component. Component loggers share
// the global writer and its lock so lines from different components never interleave.
func NewComponentLogger(component string) *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return &Logger{
			component: component,
			level:     INFO,
			output:    os.Stdout,
			mu:        &sync.Mutex{},
		}
	}

	return &Logger{
		component: component,
		level:     globalLogger.level,
		output:    globalLogger.output,
		mu:        globalLogger.mu,
	}
}

// SetLevel changes the minimum level emitted by this logger
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	entry := fmt.Sprintf("%s [%s] [%s] %s: %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level.String(), l.component, caller, fmt.Sprintf(format, args...))

	l.output.Write([]byte(entry))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// ErrorWithContext logs an error with additional context
func (l *Logger) ErrorWithContext(err error, context string, args ...interface{}) {
	l.log(ERROR, "%s: %v", fmt.Sprintf(context, args...), err)
}

// WithField returns a new logger with an additional field in its component tag
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{
		component: fmt.Sprintf("%s[%s=%s]", l.component, key, value),
		level:     l.level,
		output:    l.output,
		mu:        l.mu,
	}
}

func global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs through the global logger
func Debug(format string, args ...interface{}) {
	if lg := global(); lg != nil {
		lg.log(DEBUG, format, args...)
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// Info logs through the global logger
func Info(format string, args ...interface{}) {
	if lg := global(); lg != nil {
		lg.log(INFO, format, args...)
		return
	}
	log.Printf("[INFO] "+format, args...)
}

// Warn logs through the global logger
func Warn(format string, args ...interface{}) {
	if lg := global(); lg != nil {
		lg.log(WARN, format, args...)
		return
	}
	log.Printf("[WARN] "+format, args...)
}

// Error logs through the global logger
func Error(format string, args ...interface{}) {
	if lg := global(); lg != nil {
		lg.log(ERROR, format, args...)
		return
	}
	log.Printf("[ERROR] "+format, args...)
}
