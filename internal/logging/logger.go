// Package logging builds the gateway's JSON slog loggers. The root logger
// carries the service name; each subsystem derives its own with For.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const DefaultService = "automation-gateway"

type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level   string
	Writer  io.Writer
	Service string
	Version string
}

func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level, ReplaceAttr: readableDurations})
	service := strings.TrimSpace(opts.Service)
	if service == "" {
		service = DefaultService
	}
	lg := slog.New(h).With("service", service)
	if opts.Version != "" {
		lg = lg.With("version", opts.Version)
	}
	if err != nil {
		lg.Warn("unknown log level, using info", "level", opts.Level)
	}
	return lg
}

// For returns lg tagged with subsystem. A nil lg yields a discarding logger,
// so packages can take an optional logger.
func For(lg *slog.Logger, subsystem string) *slog.Logger {
	return OrDiscard(lg).With("subsystem", subsystem)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns lg, or a discarding logger when lg is nil.
func OrDiscard(lg *slog.Logger) *slog.Logger {
	if lg == nil {
		return Discard()
	}
	return lg
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level %q: want debug, info, warn or error", level)
	}
}

// readableDurations writes durations as "1.5s" instead of nanoseconds.
func readableDurations(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.String(a.Key, a.Value.Duration().Round(time.Microsecond).String())
	}
	return a
}
