// Package logging builds the zerolog loggers used across mrficm.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"

	"mrficm/pkg/config"
)

// New creates a logger from the logging section of cfg. Messages go to a
// rotating file when one is configured, otherwise to stderr. The returned
// closer releases the log file and is never nil.
func New(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Logging.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Logging.File != "" {
		l := &lumberjack.Logger{
			Filename: cfg.Logging.File,
			MaxSize:  cfg.Logging.MaxSizeMB, // megabytes
			MaxAge:   cfg.Logging.MaxAgeDays,
		}
		w, closer = l, l
	} else if cfg.Logging.Console {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return NewWithWriter(w, level), closer, nil
}

// NewWithWriter creates a timestamped logger writing JSON lines to w.
func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component tags every event of the returned logger with the subsystem name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ParseLevel accepts the usual zerolog level names plus "warning". An empty
// string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
