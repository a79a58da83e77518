// Package xlog provides the structured logger shared by every corestore
// component. Call sites use the teacher's key/value convention
// (log.Info("msg", "key", val, ...)) backed by zerolog's event builder.
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetOutput redirects the process-wide default output to w, as JSON when
// jsonOutput is set and as console text otherwise.
func SetOutput(w io.Writer, jsonOutput bool) {
	if jsonOutput {
		base = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	base = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Logger is a component-scoped logger exposing the teacher's call style.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger tagged with the given component name.
func New(component string) Logger {
	return Logger{zl: base.With().Str("component", component).Logger()}
}

// With returns a child logger with an additional field attached.
func (l Logger) With(key string, value interface{}) Logger {
	return Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l Logger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (l Logger) Debug(msg string, kv ...interface{}) { l.event(l.zl.Debug(), msg, kv) }
func (l Logger) Info(msg string, kv ...interface{})  { l.event(l.zl.Info(), msg, kv) }
func (l Logger) Warn(msg string, kv ...interface{})  { l.event(l.zl.Warn(), msg, kv) }
func (l Logger) Error(msg string, kv ...interface{}) { l.event(l.zl.Error(), msg, kv) }

var def = New("corestore")

// Default is the package-level logger used by cmd/corestore before a
// component-scoped logger has been constructed.
func Default() Logger { return def }
