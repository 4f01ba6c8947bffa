// Package memstore provides an in-process [memory.Persister]. It is the
// default backend when no database is configured; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/pkg/memory"
)

// Store is a map-backed [memory.Persister]. The zero value is ready to use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]memory.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]memory.Session)}
}

// Save implements [memory.Persister].
func (s *Store) Save(_ context.Context, sess memory.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("memstore: save: empty session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]memory.Session)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Load implements [memory.Persister].
func (s *Store) Load(_ context.Context, id string) (memory.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return memory.Session{}, fmt.Errorf("memstore: load %q: %w", id, memory.ErrNotFound)
	}
	return sess.Clone(), nil
}

// Delete implements [memory.Persister].
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Recent implements [memory.Persister].
func (s *Store) Recent(_ context.Context, limit int) ([]memory.Session, error) {
	s.mu.RLock()
	out := make([]memory.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b memory.Session) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [memory.Persister]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

var _ memory.Persister = (*Store)(nil)
