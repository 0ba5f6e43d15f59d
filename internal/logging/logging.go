// Package logging configures the application-wide slog loggers: a structured
// JSON logger on stdout plus rotated per-service file loggers.
package logging

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with the given minimum level. JSON
// output goes to stdout and becomes the process default logger.
func Init(level slog.Level) {
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
	slog.SetDefault(structuredLogger)
}

// Per-service file logger state. Guarded by fileMu since ForService is called
// from component constructors on different goroutines.
var (
	fileMu      sync.Mutex
	fileLogDir  string
	fileLevel   slog.Level
	serviceLogs map[string]*slog.Logger
	fileClosers []func() error
)

// InitFileLogging directs subsequent ForService calls to rotated log files
// under dir, one <service>.log per service. Without it ForService loggers
// write to the process default handler.
func InitFileLogging(dir string, level slog.Level) {
	fileMu.Lock()
	defer fileMu.Unlock()
	fileLogDir = dir
	fileLevel = level
}

// CloseFileLoggers closes every rotated service log file and resets the
// per-service logger registry.
func CloseFileLoggers() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	var errs []error
	for _, closeFn := range fileClosers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	fileClosers = nil
	serviceLogs = nil
	return stderrors.Join(errs...)
}

// ForService returns the logger for a named service. With file logging
// initialized each service logs to its own rotated file; otherwise records
// carry the 'service' attribute on the default logger.
func ForService(serviceName string) *slog.Logger {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileLogDir != "" {
		if logger, ok := serviceLogs[serviceName]; ok {
			return logger
		}
		logPath := filepath.Join(fileLogDir, serviceName+".log")
		logger, closeFn, err := NewFileLogger(logPath, serviceName, fileLevel)
		if err == nil {
			if serviceLogs == nil {
				serviceLogs = make(map[string]*slog.Logger)
			}
			serviceLogs[serviceName] = logger
			fileClosers = append(fileClosers, closeFn)
			return logger
		}
		slog.Default().Warn("file logger unavailable, falling back to default",
			"service", serviceName, "path", logPath, "error", err)
	}

	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// NewFileLogger creates a slog.Logger writing JSON logs to filePath, rotated
// by lumberjack. All records carry a 'service' attribute. It returns the
// logger and a function to close the underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})

	logger := slog.New(fileHandler).With("service", serviceName)
	return logger, logWriter.Close, nil
}
