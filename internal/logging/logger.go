package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global logger. Output always goes to stderr, leaving
// stdout to command results, and when logFilePath is set is appended to that
// file as JSON as well. format selects the stderr encoding: "json" (default)
// or "console" for human-readable CI logs.
func Init(logFilePath, level, format string) (func(), error) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var stderr io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{stderr}

	var f *os.File
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	Log = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return func() {
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log is the package-global logger configured by Init. Until Init runs it
// discards everything, which keeps library code quiet in tests.
var Log = zerolog.Nop()

// Get returns a pointer to the package-global logger
func Get() *zerolog.Logger {
	return &Log
}
