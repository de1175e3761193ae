// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration options.
type Config struct {
	// Level is the minimum log level to output.
	Level slog.Level
	// JSON enables JSON output, used when running as a service.
	JSON bool
	// Output is the writer to write logs to. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns a text logger at the level named by LOG_LEVEL.
func DefaultConfig() Config {
	return FromSettings(os.Getenv("LOG_LEVEL"), false)
}

// FromSettings builds a Config from the LOG_LEVEL and LOG_JSON settings.
func FromSettings(level string, json bool) Config {
	return Config{
		Level:  ParseLevel(level),
		JSON:   json,
		Output: os.Stderr,
	}
}

// ParseLevel converts DEBUG, INFO, WARN or ERROR to a slog level.
// Anything else is INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a logger built from cfg as the slog default and returns it.
func Setup(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(handler).With("app", "moneytracker")
	slog.SetDefault(logger)
	return logger
}
