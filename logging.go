// Package eventloop uses github.com/joeycumines/logiface, a generic
// structured-logging front end, wired to github.com/rs/zerolog via the
// github.com/joeycumines/izerolog adapter. This file only provides the
// defaults and a couple of convenience constructors; the logging calls
// themselves live next to the code that emits them.
package eventloop

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Log is the type threaded through Loop, Connection, and the HTTP
// collaborator for structured logging.
type Log = *logiface.Logger[*izerolog.Event]

// NewDevLogger builds a human-readable, console-writer backed Log,
// suitable for local development.
func NewDevLogger(level logiface.Level) Log {
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	z := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// NewJSONLogger builds a JSON-line Log writing to w, suitable for
// production deployments behind a log shipper.
func NewJSONLogger(w zerolog.Logger, level logiface.Level) Log {
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(w),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// noopLog is used by components that were never given a logger, so that
// loop.log.Info() etc. are always safe to call without a nil check.
func noopLog() Log {
	return logiface.New[*izerolog.Event]()
}

// NewNopLogger builds a Log that discards everything. Exported so
// collaborators outside this package (e.g. httpd.Dispatcher, or tests)
// can default an unset logger without constructing a real writer.
func NewNopLogger() Log {
	return noopLog()
}
