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

	"github.com/sirupsen/logrus"
)

// Logger represents the application logger
type Logger struct {
	*logrus.Logger
	mu sync.RWMutex
}

// LogLevel represents log levels
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// LogFormat represents log output formats
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config represents logger configuration
type Config struct {
	Level  LogLevel
	Format LogFormat
	Output string // file path or "stdout"
	Caller bool
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the global logger from LOG_* environment variables
func Init() {
	once.Do(func() {
		instance = NewLogger(getLoggerConfig())
	})
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	logger := &Logger{
		Logger: logrus.New(),
	}

	logger.SetLevel(getLogrusLevel(config.Level))

	if config.Format == TextFormat {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	}

	logger.SetOutput(openOutput(config.Output))
	logger.SetReportCaller(config.Caller)

	return logger
}

func openOutput(output string) io.Writer {
	if output == "" || output == "stdout" {
		return os.Stdout
	}
	if output == "stderr" {
		return os.Stderr
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		log.Printf("Failed to create log directory: %v", err)
		return os.Stdout
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return os.Stdout
	}
	if os.Getenv("APP_ENV") == "development" {
		return io.MultiWriter(file, os.Stdout)
	}
	return file
}

// getLoggerConfig returns logger configuration from environment
func getLoggerConfig() Config {
	config := Config{
		Level:  InfoLevel,
		Format: JSONFormat,
		Output: "stdout",
		Caller: true,
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		config.Output = output
	}
	if os.Getenv("LOG_CALLER") == "false" {
		config.Caller = false
	}

	return config
}

// getLogrusLevel converts LogLevel to logrus.Level
func getLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// base returns the global logger, or the logrus standard logger when Init
// has not run (tests, tools).
func base() *logrus.Logger {
	if instance != nil {
		return instance.Logger
	}
	return logrus.StandardLogger()
}

func Info(args ...interface{}) { base().Info(args...) }

func Warn(args ...interface{}) { base().Warn(args...) }

func Error(args ...interface{}) { base().Error(args...) }

// Fatal logs a fatal message and exits
func Fatal(args ...interface{}) { base().Fatal(args...) }

// WithField creates a logger entry with a field
func WithField(key string, value interface{}) *logrus.Entry {
	return base().WithField(key, value)
}

// WithFields creates a logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return base().WithFields(fields)
}

// WithError creates a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return base().WithError(err)
}

func withMetadata(fields logrus.Fields, metadata map[string]interface{}) logrus.Fields {
	for k, v := range metadata {
		fields[k] = v
	}
	return fields
}

// LogRequest logs HTTP request information
func LogRequest(method, path, ip, userAgent string, duration time.Duration, statusCode int) {
	WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"ip":          ip,
		"user_agent":  userAgent,
		"duration_ms": duration.Milliseconds(),
		"status_code": statusCode,
		"type":        "request",
	}).Info("HTTP Request")
}

// LogUserAction logs queue-level user actions
func LogUserAction(username, action string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"username": username,
		"action":   action,
		"type":     "user_action",
	}
	WithFields(withMetadata(fields, metadata)).Info("User Action")
}

// LogMatchEvent logs pairing decisions
func LogMatchEvent(event, roomName, username string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"event":     event,
		"room_name": roomName,
		"username":  username,
		"type":      "match_event",
	}
	WithFields(withMetadata(fields, metadata)).Info("Match Event")
}

// LogLifecycleEvent logs disconnect, skip and end workflows
func LogLifecycleEvent(event, roomName, username string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"event":     event,
		"room_name": roomName,
		"username":  username,
		"type":      "lifecycle_event",
	}
	WithFields(withMetadata(fields, metadata)).Info("Lifecycle Event")
}

// LogError logs detailed error information
func LogError(err error, context string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"error":   err.Error(),
		"context": context,
		"type":    "error_detail",
	}
	if os.Getenv("APP_ENV") == "development" {
		fields["stack_trace"] = getStackTrace()
	}
	WithFields(withMetadata(fields, metadata)).Error("Application Error")
}

// getStackTrace returns stack trace for debugging
func getStackTrace() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// SetLevel changes the logger level at runtime
func SetLevel(level LogLevel) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.SetLevel(getLogrusLevel(level))
	}
}

// Close closes the logger (useful for file outputs)
func Close() error {
	if instance != nil {
		if file, ok := instance.Out.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			return file.Close()
		}
	}
	return nil
}
