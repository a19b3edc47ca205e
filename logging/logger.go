// Package logging wraps zerolog the way the pack's services do —
// a small named-component logger handed explicitly to each
// subsystem, never a package-level global.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the structured logging surface every component takes at
// construction time.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// New returns a child logger tagged with component, e.g.
	// log.New("headersync").
	New(component string) Logger
}

// zLogger implements Logger over a zerolog.Logger.
type zLogger struct {
	zl zerolog.Logger
}

// New builds a root Logger. pretty selects a human-readable console
// writer (suited to a foreground/dev run); otherwise JSON lines are
// written to out.
func New(out *os.File, pretty bool, level string) Logger {
	var zl zerolog.Logger
	if pretty {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		cw.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-5s|", i))
		}
		zl = zerolog.New(cw).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(out).With().Timestamp().Logger()
	}
	zl = zl.Level(parseLevel(level))
	return &zLogger{zl: zl}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *zLogger) Debugf(format string, args ...interface{}) { z.zl.Debug().Msgf(format, args...) }
func (z *zLogger) Infof(format string, args ...interface{})  { z.zl.Info().Msgf(format, args...) }
func (z *zLogger) Warnf(format string, args ...interface{})  { z.zl.Warn().Msgf(format, args...) }
func (z *zLogger) Errorf(format string, args ...interface{}) { z.zl.Error().Msgf(format, args...) }

func (z *zLogger) New(component string) Logger {
	return &zLogger{zl: z.zl.With().Str("component", component).Logger()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return &zLogger{zl: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}
