// Package logger builds the process-wide zerolog logger. Development
// gets a human console writer, everything else gets JSON for log
// shipping.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for the given environment ("development",
// "staging", "production"). Unknown environments log JSON at info.
func New(environment string) zerolog.Logger {
	if strings.EqualFold(environment, "development") {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// NewWithWriter is New with an explicit sink, for tests.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
