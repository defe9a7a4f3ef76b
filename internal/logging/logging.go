// Package logging builds the zerolog logger shared by the mcpbridge binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"

	"github.com/dshills/mcpbridge/internal/config"
)

// TimeFormat is used by the console writer.
const TimeFormat = "2006-01-02 15:04:05"

// New returns a logger writing to w in the configured format and level.
func New(w io.Writer, cfg config.Log) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var out io.Writer
	switch cfg.Format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: TimeFormat, NoColor: !IsTerminal(w)}
	case "json":
		out = w
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// IsTerminal reports whether w is a terminal. Colours are only written to
// terminals so that piped output, such as a child's stderr read by mcpbridge,
// stays plain.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Install makes logger the process-wide default for the zerolog global and
// context loggers and enables stack traces for errors that carry them.
func Install(logger zerolog.Logger) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zlog.Logger = logger
	zerolog.DefaultContextLogger = &zlog.Logger
}

// ParseLevel parses a level name, accepting "warning" for warn. An empty
// name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}
