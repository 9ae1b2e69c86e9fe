// Package logger builds the process logger: text at debug level in
// development, JSON at info level otherwise, with an optional Sentry handler
// receiving errors.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Options controls New.
type Options struct {
	Dev       bool
	SentryDSN string
	Output    io.Writer // defaults to os.Stdout
}

// New builds a logger from opts. A Sentry DSN that fails to initialise is
// reported on the returned logger and otherwise ignored.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var handlers []slog.Handler
	if opts.Dev {
		handlers = append(handlers, slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		handlers = append(handlers, slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var sentryErr error
	if opts.SentryDSN != "" {
		sentryErr = sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			TracesSampleRate: 1.0,
		})
		if sentryErr == nil {
			handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		}
	}

	var h slog.Handler
	if len(handlers) > 1 {
		h = slogmulti.Fanout(handlers...)
	} else {
		h = handlers[0]
	}

	log := slog.New(h)
	if sentryErr != nil {
		log.Warn("sentry disabled", "err", sentryErr)
	}
	return log
}

// Init builds a logger and installs it as the slog default.
func Init(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}
