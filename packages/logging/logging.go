// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON logger writing to w at the given level, tagged with service.
func New(w io.Writer, level slog.Level, service string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}).WithAttrs([]slog.Attr{slog.String("service", service)})
	return slog.New(handler)
}

// Setup installs the default logger: stdout plus a rotated log file when
// logFile is set. The returned closer releases the file.
func Setup(logFile, logLevel, service string) io.Closer {
	var out io.Writer = os.Stdout
	var rotator *lumberjack.Logger

	if logFile != "" {
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error(
				"Failed to create log directory", "path", logDir, "error", err,
			)
		}
		rotator = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	slog.SetDefault(New(out, ParseLevel(logLevel), service))

	if rotator == nil {
		return io.NopCloser(nil)
	}
	return rotator
}
