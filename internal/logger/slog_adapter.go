package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/natefinch/lumberjack.v2"
)

// minSecretLen keeps short values like "1" from masking half of every line
const minSecretLen = 4

// SlogLogger is the log/slog backed Logger
type SlogLogger struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
	level     *slog.LevelVar
	writers   []io.WriteCloser // owned writers closed on Shutdown
}

// NewSlogLogger creates a logger writing to every configured output
func NewSlogLogger(config Config) (*SlogLogger, error) {
	sanitizer := NewSanitizer()
	for _, secret := range config.Secrets {
		if len(secret) < minSecretLen {
			continue
		}
		if err := sanitizer.AddRule(regexp.QuoteMeta(secret), "***"); err != nil {
			return nil, err
		}
	}

	var writers []io.Writer
	var closeableWriters []io.WriteCloser

	for _, output := range config.Outputs {
		switch output.Type {
		case OutputStdout:
			if output.Writer != nil {
				writers = append(writers, output.Writer)
				// Check if custom writer needs closing (exclude standard streams)
				if wc, ok := output.Writer.(io.WriteCloser); ok {
					if wc != os.Stdout && wc != os.Stderr && wc != os.Stdin {
						closeableWriters = append(closeableWriters, wc)
					}
				}
			} else {
				writers = append(writers, os.Stdout)
			}
		case OutputStderr:
			if output.Writer != nil {
				writers = append(writers, output.Writer)
				// Check if custom writer needs closing (exclude standard streams)
				if wc, ok := output.Writer.(io.WriteCloser); ok {
					if wc != os.Stdout && wc != os.Stderr && wc != os.Stdin {
						closeableWriters = append(closeableWriters, wc)
					}
				}
			} else {
				writers = append(writers, os.Stderr)
			}
		case OutputFile:
			if config.File.Enabled {
				fileWriter, err := createFileWriter(config.File)
				if err != nil {
					return nil, fmt.Errorf("failed to create file writer: %w", err)
				}
				writers = append(writers, fileWriter)
				closeableWriters = append(closeableWriters, fileWriter)
			}
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)

	var handler slog.Handler
	level := new(slog.LevelVar)
	level.Set(convertLevel(config.Level))
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(multiWriter, opts)
	case FormatText:
		handler = slog.NewTextHandler(multiWriter, opts)
	default:
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	return &SlogLogger{
		logger:    slog.New(handler),
		sanitizer: sanitizer,
		level:     level,
		writers:   closeableWriters,
	}, nil
}

// createFileWriter creates a rotating file writer
func createFileWriter(config FileConfig) (io.WriteCloser, error) {
	// Validate path is not empty
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

// convertLevel maps Level to slog.Level
func convertLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs at debug level
func (l *SlogLogger) Debug(msg string, args ...any) {
	sanitizedMsg := l.sanitizer.Sanitize(msg)
	sanitizedArgs := l.sanitizer.SanitizeArgs(args)
	l.logger.Debug(sanitizedMsg, sanitizedArgs...)
}

// Info logs at info level
func (l *SlogLogger) Info(msg string, args ...any) {
	sanitizedMsg := l.sanitizer.Sanitize(msg)
	sanitizedArgs := l.sanitizer.SanitizeArgs(args)
	l.logger.Info(sanitizedMsg, sanitizedArgs...)
}

// Warn logs at warn level
func (l *SlogLogger) Warn(msg string, args ...any) {
	sanitizedMsg := l.sanitizer.Sanitize(msg)
	sanitizedArgs := l.sanitizer.SanitizeArgs(args)
	l.logger.Warn(sanitizedMsg, sanitizedArgs...)
}

// Error logs at error level
func (l *SlogLogger) Error(msg string, args ...any) {
	sanitizedMsg := l.sanitizer.Sanitize(msg)
	sanitizedArgs := l.sanitizer.SanitizeArgs(args)
	l.logger.Error(sanitizedMsg, sanitizedArgs...)
}

// With creates a child logger.
// Children do not own writers, so closing happens exactly once.
func (l *SlogLogger) With(args ...any) Logger {
	sanitizedArgs := l.sanitizer.SanitizeArgs(args)
	return &childLogger{
		logger:    l.logger.With(sanitizedArgs...),
		sanitizer: l.sanitizer,
	}
}

// Sync is a no-op: handlers write through and lumberjack does not buffer
func (l *SlogLogger) Sync() error {
	return nil
}

// SetLevel changes the minimum level for this logger and all its children
func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(convertLevel(level))
}

// Shutdown closes every owned writer
func (l *SlogLogger) Shutdown() error {
	var lastErr error
	for _, w := range l.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// childLogger shares the parent handler and owns no writers
type childLogger struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
}

func (c *childLogger) Debug(msg string, args ...any) {
	sanitizedMsg := c.sanitizer.Sanitize(msg)
	sanitizedArgs := c.sanitizer.SanitizeArgs(args)
	c.logger.Debug(sanitizedMsg, sanitizedArgs...)
}

func (c *childLogger) Info(msg string, args ...any) {
	sanitizedMsg := c.sanitizer.Sanitize(msg)
	sanitizedArgs := c.sanitizer.SanitizeArgs(args)
	c.logger.Info(sanitizedMsg, sanitizedArgs...)
}

func (c *childLogger) Warn(msg string, args ...any) {
	sanitizedMsg := c.sanitizer.Sanitize(msg)
	sanitizedArgs := c.sanitizer.SanitizeArgs(args)
	c.logger.Warn(sanitizedMsg, sanitizedArgs...)
}

func (c *childLogger) Error(msg string, args ...any) {
	sanitizedMsg := c.sanitizer.Sanitize(msg)
	sanitizedArgs := c.sanitizer.SanitizeArgs(args)
	c.logger.Error(sanitizedMsg, sanitizedArgs...)
}

func (c *childLogger) With(args ...any) Logger {
	sanitizedArgs := c.sanitizer.SanitizeArgs(args)
	return &childLogger{
		logger:    c.logger.With(sanitizedArgs...),
		sanitizer: c.sanitizer,
	}
}

func (c *childLogger) Sync() error {
	return nil
}

func (c *childLogger) Shutdown() error {
	return nil
}
