// Package mock provides a test double for [memory.Persister].
//
// The mock keeps sessions in a map so round trips behave like a real store,
// records every call, and exposes *Err fields to inject failures.
//
//	p := &mock.Persister{SaveErr: errors.New("disk full")}
//	// inject p into the system under test …
//	if got := p.CallCount("Save"); got != 1 { … }
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Persister is a configurable test double for [memory.Persister].
type Persister struct {
	mu       sync.Mutex
	calls    []Call
	sessions map[string]memory.Session

	// SaveErr is returned by Save when non-nil; the session is not stored.
	SaveErr error

	// LoadErr is returned by Load when non-nil.
	LoadErr error

	// DeleteErr is returned by Delete when non-nil.
	DeleteErr error

	// RecentErr is returned by Recent when non-nil.
	RecentErr error

	// PingErr is returned by Ping.
	PingErr error
}

func (p *Persister) record(method string, args ...any) {
	p.calls = append(p.calls, Call{Method: method, Args: args})
}

// Save implements [memory.Persister].
func (p *Persister) Save(_ context.Context, s memory.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Save", s.Clone())
	if p.SaveErr != nil {
		return p.SaveErr
	}
	if p.sessions == nil {
		p.sessions = make(map[string]memory.Session)
	}
	p.sessions[s.ID] = s.Clone()
	return nil
}

// Load implements [memory.Persister].
func (p *Persister) Load(_ context.Context, id string) (memory.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Load", id)
	if p.LoadErr != nil {
		return memory.Session{}, p.LoadErr
	}
	s, ok := p.sessions[id]
	if !ok {
		return memory.Session{}, fmt.Errorf("mock: %w", memory.ErrNotFound)
	}
	return s.Clone(), nil
}

// Delete implements [memory.Persister].
func (p *Persister) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Delete", id)
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	delete(p.sessions, id)
	return nil
}

// Recent implements [memory.Persister].
func (p *Persister) Recent(_ context.Context, limit int) ([]memory.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Recent", limit)
	if p.RecentErr != nil {
		return nil, p.RecentErr
	}
	out := make([]memory.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Clone())
	}
	slices.SortFunc(out, func(a, b memory.Session) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [memory.Persister].
func (p *Persister) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Ping")
	return p.PingErr
}

// Calls returns a copy of all recorded calls.
func (p *Persister) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times method was called.
func (p *Persister) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Stored returns the session currently held under id.
func (p *Persister) Stored(id string) (memory.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s.Clone(), ok
}

// Seed stores sessions directly, bypassing call recording.
func (p *Persister) Seed(sessions ...memory.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = make(map[string]memory.Session)
	}
	for _, s := range sessions {
		p.sessions[s.ID] = s.Clone()
	}
}

var _ memory.Persister = (*Persister)(nil)
