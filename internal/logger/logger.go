package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New creates a zerolog.Logger that writes JSON to os.Stdout.
// If debug is true, the log level is set to Debug. Otherwise, it's set to Info.
func New(debug bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, debug)
}

// NewWithWriter creates a logger with a specific writer.
func NewWithWriter(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// Console returns a human-readable logger for CLI commands.
func Console(debug bool) zerolog.Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr}, debug)
}
