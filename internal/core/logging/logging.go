// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options configures New. Zero values mean info level, JSON, stderr.
type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New returns a logger with a timestamp on every event.
func New(opts Options) (zerolog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatJSON:
	case FormatText:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q (expected json or text)", opts.Format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// ParseLevel accepts trace, debug, info, warn/warning and error. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel, nil
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "WARN", "WARNING":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
