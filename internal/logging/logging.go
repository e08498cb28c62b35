// Package logging builds the proxy's single structured logger. Every log
// line goes to stderr — stdout is the parent's JSON-RPC stream and must
// never carry anything else.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a stderr-bound slog.Logger. Debug-level output is only
// enabled when debug is true (driven by the DEBUG environment variable at
// the call site); otherwise the logger is silent below Warn.
func New(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Nop returns a logger that discards all output, for tests that don't care
// about diagnostics.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
