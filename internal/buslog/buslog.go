// Package buslog provides the structured logging sink used throughout the
// daemon core. Callers depend on the small Logger interface rather than a
// concrete zerolog.Logger, the same way internal/nstransport depends on a
// Transport interface instead of a concrete net.PacketConn: it keeps engine
// code testable against a no-op logger and swappable without touching call
// sites.
package buslog

import (
	"io"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// Logger is the logging surface consumed by internal packages. Fields are
// passed as alternating key/value pairs, mirroring zerolog's fluent field
// builders without leaking the zerolog type into call sites.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

// zlog adapts zerolog.Logger to the Logger interface.
type zlog struct {
	l zerolog.Logger
}

// New builds a console-friendly logger writing to stderr, colorized when
// attached to a terminal. verbose enables debug-level output; the daemon
// wires this to -v / --verbose.
func New(verbose bool) Logger {
	out := colorable.NewColorableStderr()
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zlog{l: l}
}

// Discard returns a Logger that drops everything, used by tests and by
// components constructed without an explicit logger.
func Discard() Logger {
	return &zlog{l: zerolog.New(io.Discard)}
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (z *zlog) Debug(msg string, kv ...any) { fields(z.l.Debug(), kv).Msg(msg) }
func (z *zlog) Info(msg string, kv ...any)   { fields(z.l.Info(), kv).Msg(msg) }
func (z *zlog) Warn(msg string, kv ...any)   { fields(z.l.Warn(), kv).Msg(msg) }
func (z *zlog) Error(msg string, err error, kv ...any) {
	fields(z.l.Error().Err(err), kv).Msg(msg)
}
