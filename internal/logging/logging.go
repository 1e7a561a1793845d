package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kkkkikiki/vaxmatch/internal/config"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. An unset format picks console in
// development and JSON elsewhere.
func New(cfg config.AppConfig) *zerolog.Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.AppConfig, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	out := w
	if consoleFormat(cfg) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: cfg.IsProduction()}
	}

	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "vaxmatch").
		Str("env", cfg.Environment).
		Logger()
	return &logger
}

func consoleFormat(cfg config.AppConfig) bool {
	switch strings.ToLower(cfg.LogFormat) {
	case "console":
		return true
	case "":
		return cfg.IsDevelopment()
	default:
		return false
	}
}

// Component returns a child logger tagged with the component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}
