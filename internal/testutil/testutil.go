// Package testutil provides shared testing infrastructure: a disposable
// PostgreSQL container with the pgvector extension, a deterministic
// embedder, and small helpers reused across package tests.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output. Components
// taking a log.Logger accept it directly since that type aliases
// *slog.Logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
