package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/jarvis/pkg/memory"
)

// MemoryGuard wraps a [memory.Persister] and makes writes non-fatal. If the
// backend fails, Save and Delete log a warning and report success, and
// Recent returns an empty slice. Load still returns its error, because a
// caller resuming a session must tell "not found" from "found".
//
// IsDegraded reports whether the most recent backend call failed; the
// readiness probe surfaces it.
//
// MemoryGuard implements [memory.Persister].
type MemoryGuard struct {
	store    memory.Persister
	degraded atomic.Bool
}

// NewMemoryGuard creates a new [MemoryGuard] wrapping store.
func NewMemoryGuard(store memory.Persister) *MemoryGuard {
	return &MemoryGuard{store: store}
}

// Save writes s to the backend. Failures are logged and swallowed.
func (mg *MemoryGuard) Save(ctx context.Context, s memory.Session) error {
	if err := mg.store.Save(ctx, s); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Save failed, swallowing error",
			"session_id", s.ID,
			"error", err,
		)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// Load reads a session. A missing session is not a backend failure.
func (mg *MemoryGuard) Load(ctx context.Context, id string) (memory.Session, error) {
	s, err := mg.store.Load(ctx, id)
	switch {
	case err == nil:
		mg.degraded.Store(false)
	case errors.Is(err, memory.ErrNotFound):
	default:
		mg.degraded.Store(true)
		slog.Warn("memory guard: Load failed", "session_id", id, "error", err)
	}
	return s, err
}

// Delete removes a session. Failures are logged and swallowed.
func (mg *MemoryGuard) Delete(ctx context.Context, id string) error {
	if err := mg.store.Delete(ctx, id); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Delete failed, swallowing error", "session_id", id, "error", err)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// Recent lists sessions. On failure an empty slice is returned.
func (mg *MemoryGuard) Recent(ctx context.Context, limit int) ([]memory.Session, error) {
	sessions, err := mg.store.Recent(ctx, limit)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Recent failed, returning empty", "limit", limit, "error", err)
		return []memory.Session{}, nil
	}
	mg.degraded.Store(false)
	return sessions, nil
}

// Ping checks the backend and updates the degraded flag. Unlike the other
// methods it returns the error, for readiness checks.
func (mg *MemoryGuard) Ping(ctx context.Context) error {
	err := mg.store.Ping(ctx)
	mg.degraded.Store(err != nil)
	return err
}

// IsDegraded reports whether the most recent backend call failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}

// Compile-time check that MemoryGuard satisfies memory.Persister.
var _ memory.Persister = (*MemoryGuard)(nil)
