// Package logging builds the shared zerolog.Logger every component threads
// through its context.Context. The teacher binary prints its own plain
// startup/shutdown banners with fmt.Println; this module routes every log
// line through zerolog instead, including the startup and shutdown banners
// in cmd/validator, since the design's error table names explicit levels
// (warning/info/debug/error) that plain fmt cannot express without
// hand-rolled plumbing.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New builds a console-friendly zerolog.Logger at the given level name
// ("debug", "info", "warn", "error"; unrecognized values fall back to info).
func New(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}

// WithLogger attaches a logger to ctx so it can be retrieved with From.
func WithLogger(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// From returns the logger attached to ctx, or a disabled logger if none was
// attached — callers never need a nil check.
func From(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}
