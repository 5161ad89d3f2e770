// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application-wide logger type, aliased to zerolog.Logger
// so other packages can depend on this package instead of zerolog
// directly.
type Logger = zerolog.Logger

// Options control where and how logs are written.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Invalid
	// values fall back to info.
	Level string
	// Format is "console" (default) or "json".
	Format string
	// FilePath, when set, duplicates output to the given file.
	FilePath string
}

// Init configures the global logger and returns it.
func Init(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	writers := make([]io.Writer, 0, 2)
	deferredWarnings := make([]string, 0, 1)

	writers = append(writers, wrapWriter(os.Stdout, format))

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			deferredWarnings = append(deferredWarnings, fmt.Sprintf("failed to open log file %q, disabling file logging: %v", path, err))
		} else {
			writers = append(writers, wrapWriter(file, format))
		}
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = zerolog.MultiLevelWriter(writers...)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
		if opts.Level != "" {
			deferredWarnings = append(deferredWarnings, fmt.Sprintf("invalid log level %q, defaulting to info", opts.Level))
		}
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(output).Level(lvl)

	for _, msg := range deferredWarnings {
		log.Warn().Msg(msg)
	}

	log.Info().
		Str("level", lvl.String()).
		Str("format", format).
		Str("log_file_path", opts.FilePath).
		Msg("logger initialized")
	return log.Logger
}

func wrapWriter(w io.Writer, format string) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

// Get returns a pointer to the configured logger instance.
func Get() *zerolog.Logger {
	return &log.Logger
}

// SetOutput redirects log output. Useful in tests.
func SetOutput(w io.Writer) {
	log.Logger = log.Output(w)
}

// HTTPEvent logs HTTP request events with standardized fields.
func HTTPEvent(method, path string, status int, durationMs float64) *zerolog.Event {
	return log.Info().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("duration_ms", durationMs)
}

// HTTPError logs HTTP error events.
func HTTPError(method, path string, status int, err error) *zerolog.Event {
	return log.Error().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Err(err)
}

// PanicEvent logs panic recovery events.
func PanicEvent(err interface{}, stack string) *zerolog.Event {
	return log.Error().
		Str("event_category", "panic").
		Interface("error", err).
		Str("stack", stack)
}
