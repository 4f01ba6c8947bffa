package app

import (
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/internal/conversation"
)

// ErrSessionBusy is returned by NewActor when the session, or the owner,
// already has a running conversation on another connection.
var ErrSessionBusy = errors.New("session already has a live conversation")

// liveSet tracks the running conversations by session ID and by owner.
// Anonymous conversations are tracked by session only. All methods are
// safe for concurrent use.
type liveSet struct {
	mu      sync.Mutex
	byID    map[string]*conversation.Actor
	byOwner map[string]*conversation.Actor
}

func newLiveSet() *liveSet {
	return &liveSet{
		byID:    make(map[string]*conversation.Actor),
		byOwner: make(map[string]*conversation.Actor),
	}
}

// add registers a. It reports false when the session or its owner is
// already live.
func (l *liveSet) add(a *conversation.Actor) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[a.SessionID()]; ok {
		return false
	}
	owner := a.Owner()
	if owner != "" {
		if _, ok := l.byOwner[owner]; ok {
			return false
		}
		l.byOwner[owner] = a
	}
	l.byID[a.SessionID()] = a
	return true
}

// remove unregisters a, unless its session has since been taken over.
func (l *liveSet) remove(a *conversation.Actor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byID[a.SessionID()] == a {
		delete(l.byID, a.SessionID())
	}
	if owner := a.Owner(); owner != "" && l.byOwner[owner] == a {
		delete(l.byOwner, owner)
	}
}

func (l *liveSet) hasOwner(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byOwner[owner]
	return ok
}

func (l *liveSet) has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[id]
	return ok
}

func (l *liveSet) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

func (l *liveSet) ids() []string {
	l.mu.Lock()
	ids := make([]string, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (l *liveSet) actors() []*conversation.Actor {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*conversation.Actor, 0, len(l.byID))
	for _, a := range l.byID {
		out = append(out, a)
	}
	return out
}
