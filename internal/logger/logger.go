// Package logger provides the relay's structured slog logger. Logs are JSON,
// written either to a size-rotated file or to stderr.
//
// The log file lives at:
//
//	<logDir>/system.log
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for system.log.
const (
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 30
)

// NewSystemLogger creates a JSON slog.Logger that writes to <logDir>/system.log,
// rotating the file by size. The directory is created if it does not exist.
// The returned io.Closer releases the file.
func NewSystemLogger(logDir string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "system.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return New(w, level), w, nil
}

// New creates a JSON slog.Logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
