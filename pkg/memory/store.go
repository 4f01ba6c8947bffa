// Package memory defines the persistence layer for conversation sessions.
//
// The in-process session store (internal/session) owns the live, bounded
// message windows. A [Persister] is the opaque key-value store behind it:
// sessions are written on mutation and read back at startup, keyed by
// session ID. Backends live in subpackages (postgres, redis, memstore).
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Persister.Load] when no session with the given
// ID exists.
var ErrNotFound = errors.New("memory: session not found")

// Persister stores whole sessions keyed by ID.
type Persister interface {
	// Save inserts or replaces the session with s.ID.
	Save(ctx context.Context, s Session) error

	// Load returns the session with the given ID, or an error wrapping
	// [ErrNotFound].
	Load(ctx context.Context, id string) (Session, error)

	// Delete removes the session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// Recent returns up to limit sessions ordered by LastActivityAt,
	// most recent first. A limit <= 0 returns every session.
	Recent(ctx context.Context, limit int) ([]Session, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
