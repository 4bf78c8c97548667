// Package logging wires the two loggers the rest of the tree uses: zerolog
// for CLI-facing command output, and the lighter schollz/logger for the
// long-running supervisor/tunnel/proxy packages that log on every proxied
// connection and can't afford a zerolog event allocation per line.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	schollz "github.com/schollz/logger"
)

// Init configures the global zerolog logger the way main.go did in the
// teacher: console-writer output, level from LOG_LEVEL (default info), and
// propagates the same level to the package-level schollz logger so both
// loggers agree on verbosity.
func Init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	levelName := os.Getenv("LOG_LEVEL")
	if os.Getenv("ASD_DEBUG") != "" {
		levelName = "debug"
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(level)

	schollzLevel := "info"
	switch level {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		schollzLevel = "debug"
	case zerolog.WarnLevel:
		schollzLevel = "warn"
	case zerolog.ErrorLevel:
		schollzLevel = "error"
	}
	schollz.SetLevel(schollzLevel)
}
