package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLogLevel converts a level name such as "debug" or "WARN".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "fatal":
		return LogLevelFatal, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})

	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	SetFormat(format LogFormat)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogFormat represents the log output format
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
	LogFormatCompact
)

// ParseLogFormat converts "text", "json" or "compact".
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	case "compact":
		return LogFormatCompact, nil
	}
	return LogFormatText, fmt.Errorf("unknown log format %q", s)
}

// LoggerConfig contains logger configuration
type LoggerConfig struct {
	Level       LogLevel
	Format      LogFormat
	Output      io.Writer
	EnableFile  bool
	FilePath    string
	EnableColor bool
}

// DefaultLoggerConfig returns a default logger configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:       LogLevelInfo,
		Format:      LogFormatText,
		Output:      os.Stderr,
		EnableFile:  false,
		EnableColor: true,
	}
}

// AdbLogger is the Logger implementation backed by logrus
type AdbLogger struct {
	config *LoggerConfig
	base   *logrus.Logger
	entry  *logrus.Entry
	file   *os.File
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *LoggerConfig) (*AdbLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	base := logrus.New()
	logger := &AdbLogger{
		config: config,
		base:   base,
		entry:  logrus.NewEntry(base),
	}

	if err := logger.setupOutput(); err != nil {
		return nil, fmt.Errorf("failed to setup logger output: %w", err)
	}
	logger.base.SetLevel(config.Level.logrusLevel())
	logger.applyFormat()

	return logger, nil
}

// setupOutput configures the logger output
func (l *AdbLogger) setupOutput() error {
	output := l.config.Output
	if output == nil {
		output = os.Stderr
	}

	if l.config.EnableFile && l.config.FilePath != "" && l.file == nil {
		dir := filepath.Dir(l.config.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(l.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
	}

	if l.file != nil {
		output = io.MultiWriter(output, l.file)
	}

	l.base.SetOutput(output)
	return nil
}

func (l *AdbLogger) applyFormat() {
	switch l.config.Format {
	case LogFormatJSON:
		l.base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	case LogFormatCompact:
		l.base.SetFormatter(&compactFormatter{})
	default:
		l.base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   !l.config.EnableColor,
		})
	}
}

// compactFormatter prints "L hh:mm:ss message".
type compactFormatter struct{}

func (f *compactFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(e.Level.String())[:1]
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", level, e.Time.Format("15:04:05"), e.Message)
	for k, v := range e.Data {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func sprintfArgs(msg string, args []interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Debug logs a debug message
func (l *AdbLogger) Debug(msg string, args ...interface{}) {
	l.entry.Debug(sprintfArgs(msg, args))
}

// Info logs an info message
func (l *AdbLogger) Info(msg string, args ...interface{}) {
	l.entry.Info(sprintfArgs(msg, args))
}

// Warn logs a warning message
func (l *AdbLogger) Warn(msg string, args ...interface{}) {
	l.entry.Warn(sprintfArgs(msg, args))
}

// Error logs an error message
func (l *AdbLogger) Error(msg string, args ...interface{}) {
	l.entry.Error(sprintfArgs(msg, args))
}

// Fatal logs a fatal message and exits
func (l *AdbLogger) Fatal(msg string, args ...interface{}) {
	l.entry.Fatal(sprintfArgs(msg, args))
}

// SetLevel sets the logging level
func (l *AdbLogger) SetLevel(level LogLevel) {
	l.config.Level = level
	l.base.SetLevel(level.logrusLevel())
}

// SetOutput sets the output writer
func (l *AdbLogger) SetOutput(w io.Writer) {
	l.config.Output = w
	_ = l.setupOutput()
}

// SetFormat sets the log format
func (l *AdbLogger) SetFormat(format LogFormat) {
	l.config.Format = format
	l.applyFormat()
}

// WithField returns a logger with an additional field
func (l *AdbLogger) WithField(key string, value interface{}) Logger {
	return &AdbLogger{
		config: l.config,
		base:   l.base,
		entry:  l.entry.WithField(key, value),
		file:   l.file,
	}
}

// WithFields returns a logger with additional fields
func (l *AdbLogger) WithFields(fields map[string]interface{}) Logger {
	return &AdbLogger{
		config: l.config,
		base:   l.base,
		entry:  l.entry.WithFields(logrus.Fields(fields)),
		file:   l.file,
	}
}

// Close closes the logger and any open files
func (l *AdbLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Global logger instance
var globalLogger Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(config *LoggerConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() Logger {
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultLoggerConfig())
		globalLogger = logger
	}
	return globalLogger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	logger, _ := NewLogger(&LoggerConfig{Level: LogLevelError, Output: io.Discard})
	return logger
}
