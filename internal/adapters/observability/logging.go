package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog Logger on stdout.
// APP_ENV=dev (or development) uses a human-friendly console writer.
func NewLogger(env string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, env, "")
}

// NewLoggerTo is NewLogger with an explicit writer and minimum level
// (zerolog level names; empty keeps debug).
func NewLoggerTo(w io.Writer, env, level string) zerolog.Logger {
	if env == "dev" || env == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		l = l.Level(lvl)
	}
	return l
}
