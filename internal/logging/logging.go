// Package logging builds the slog loggers used across the kernel and its
// tools.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options selects the level and output format of a logger.
type Options struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultOptions logs at info in text form.
func DefaultOptions() Options {
	return Options{Level: "info", Format: FormatText}
}

// Validate rejects unknown levels and formats.
func (o Options) Validate() error {
	if _, err := ParseLevel(o.Level); err != nil {
		return err
	}
	switch strings.ToLower(o.Format) {
	case "", FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", o.Format)
	}
}

// New creates a logger writing to stderr; stdout is left for reports.
func New(o Options) *slog.Logger {
	return NewWithWriter(o, os.Stderr)
}

// NewWithWriter creates a logger writing to w. Unknown levels fall back to
// info; Validate reports them beforehand.
func NewWithWriter(o Options, w io.Writer) *slog.Logger {
	level, err := ParseLevel(o.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(o.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level. The empty string means
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
