// Package telemetry provides the single structured-logging capability
// shared by every kernel-owned object. It replaces ad hoc log call sites
// with one zerolog-backed logger that subsystems derive children from.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the kernel's child-logger conventions.
type Logger struct {
	zl zerolog.Logger
}

// Options controls how the root logger is constructed.
type Options struct {
	Level      string // trace, debug, info, warn, error, fatal, none
	Pretty     bool
	Output     io.Writer
	TimeFormat string
}

// New builds the process-root Logger. cmd/mycelia calls this once and
// passes the result to system.Bootstrap, from which the kernel and each
// subsystem derive their own loggers.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		tf := opts.TimeFormat
		if tf == "" {
			tf = time.RFC3339
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	level := parseLevel(opts.Level)
	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything; useful in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.New(io.Discard)}
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying an additional string field. Subsystems
// call this once at build time: logger.With("subsystem", name).
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// WithFields returns a child logger carrying several string fields at once.
func (l *Logger) WithFields(fields map[string]string) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Zerolog exposes the underlying zerolog.Logger for packages that need the
// full event builder (e.g. attaching an error cause).
func (l *Logger) Zerolog() *zerolog.Logger { return &l.zl }
