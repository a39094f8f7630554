// Package testutil provides shared helpers for agentstream tests: scripted
// stream bodies, record builders and quiet loggers.
package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output.
//
// log.Logger is a type alias for *slog.Logger, so this is interchangeable
// with log.NewNop(); prefer log.NewNop() in packages that already import
// internal/log.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
