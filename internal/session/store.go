// Package session owns the live conversation memory of the assistant.
//
// A [Store] keeps every known session in a recency-bounded set. Each session
// carries an append-only message log capped at LogSize entries, of which the
// most recent WindowSize form the prompt window. Sessions go inactive after
// InactivityTimeout without activity; the least recently active sessions are
// evicted once MaxSessions is exceeded. Both happen silently.
//
// A session may belong to an owner, the user talking to the assistant. An
// owner has at most one active session: opening another closes the previous
// one. Sessions without an owner are anonymous and independent.
//
// Writes go through to a [memory.Persister] wrapped in a [MemoryGuard], so a
// broken backend never fails a conversation.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/memory"
)

var (
	// ErrNotFound is returned for session IDs the store does not know.
	ErrNotFound = errors.New("session: not found")

	// ErrSessionExpired is returned when appending to a session that was
	// closed by housekeeping or ended explicitly.
	ErrSessionExpired = errors.New("session: expired")

	// ErrForeignSession is returned when resuming a session that belongs to
	// a different owner.
	ErrForeignSession = errors.New("session: belongs to another owner")
)

// Config bounds the store.
type Config struct {
	// WindowSize is K, the number of most recent messages used for prompts.
	WindowSize int

	// LogSize is M, the number of messages retained per session. Values
	// below WindowSize are raised to WindowSize.
	LogSize int

	// InactivityTimeout closes sessions that saw no activity for longer.
	InactivityTimeout time.Duration

	// MaxSessions caps the number of sessions kept in memory and in the
	// persistence backend.
	MaxSessions int
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		WindowSize:        20,
		LogSize:           100,
		InactivityTimeout: 30 * time.Minute,
		MaxSessions:       100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.LogSize <= 0 {
		c.LogSize = d.LogSize
	}
	if c.LogSize < c.WindowSize {
		c.LogSize = c.WindowSize
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	return c
}

// Option configures a [Store].
type Option func(*Store)

// WithPersister writes sessions through to p. p is wrapped in a
// [MemoryGuard] unless it already is one.
func WithPersister(p memory.Persister) Option {
	return func(s *Store) {
		if g, ok := p.(*MemoryGuard); ok {
			s.persist = g
			return
		}
		s.persist = NewMemoryGuard(p)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the random UUID session IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithMetrics tracks the active session count on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// entry is one live session. mu serialises appends and housekeeping for
// that session only.
type entry struct {
	mu   sync.Mutex
	sess memory.Session
}

// Store is the in-process conversation memory.
type Store struct {
	cfg     Config
	now     func() time.Time
	newID   func() string
	persist *MemoryGuard
	metrics *observe.Metrics

	sessions *lru.Cache[string, *entry]

	evictMu sync.Mutex
	evicted []string // removed from memory, pending removal from persistence

	// ownerMu guards owners. It is never held while a session is locked.
	ownerMu sync.Mutex
	owners  map[string]string // owner -> active session id
}

// NewStore creates a store. It returns an error only for an unusable
// MaxSessions.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	s := &Store{
		cfg:   cfg.withDefaults(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		owners: make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	cache, err := lru.NewWithEvict(s.cfg.MaxSessions, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session: new store: %w", err)
	}
	s.sessions = cache
	return s, nil
}

// Config returns the effective bounds.
func (s *Store) Config() Config { return s.cfg }

// Persister returns the guarded backend, or nil.
func (s *Store) Persister() *MemoryGuard { return s.persist }

func (s *Store) onEvict(id string, e *entry) {
	e.mu.Lock()
	active, owner := e.sess.Active, e.sess.Owner
	e.mu.Unlock()
	if active {
		s.addActive(-1)
		s.release(owner, id)
	}
	s.evictMu.Lock()
	s.evicted = append(s.evicted, id)
	s.evictMu.Unlock()
	slog.Debug("session evicted", "session_id", id)
}

func (s *Store) addActive(n int64) {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), n)
	}
}

// NewID returns a fresh session ID without opening a session. [Store.Open]
// creates the session on first use.
func (s *Store) NewID() string { return s.newID() }

// Begin opens a new active session for owner and returns its ID. The
// owner's previous active session, if any, is closed.
func (s *Store) Begin(ctx context.Context, owner string) string {
	id := s.newID()
	s.create(ctx, id, owner)
	return id
}

func (s *Store) create(ctx context.Context, id, owner string) {
	now := s.now()
	e := &entry{sess: memory.Session{
		ID:             id,
		Owner:          owner,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}}
	e.mu.Lock()
	s.sessions.Add(id, e)
	s.addActive(1)
	s.save(ctx, e)
	e.mu.Unlock()
	slog.Info("session started", "session_id", id)
	s.claim(ctx, owner, id)
}

// Open makes id the owner's active session. A session neither held in
// memory nor persisted is created; a known one is resumed as by
// [Store.Resume].
func (s *Store) Open(ctx context.Context, id, owner string) error {
	err := s.Resume(ctx, id, owner)
	if err == nil || errors.Is(err, ErrForeignSession) {
		return err
	}
	if !errors.Is(err, ErrNotFound) {
		slog.Warn("session lookup failed, starting it fresh", "session_id", id, "error", err)
	}
	s.create(ctx, id, owner)
	return nil
}

// Resume reactivates the session id for owner, loading it from the
// persister when it is not in memory. Resuming an expired session reopens
// it with its history. A session with an owner can only be resumed by that
// owner; an anonymous session is adopted by the first owner resuming it.
func (s *Store) Resume(ctx context.Context, id, owner string) error {
	e, ok := s.sessions.Get(id)
	if !ok {
		loaded, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		loaded.Active = false
		e = &entry{sess: loaded}
		if prev, found, _ := s.sessions.PeekOrAdd(id, e); found {
			e = prev
		}
	}

	e.mu.Lock()
	if e.sess.Owner != "" && e.sess.Owner != owner {
		e.mu.Unlock()
		return fmt.Errorf("session: resume %s: %w", id, ErrForeignSession)
	}
	e.sess.Owner = owner
	if !e.sess.Active {
		e.sess.Active = true
		s.addActive(1)
	}
	e.sess.LastActivityAt = s.now()
	s.save(ctx, e)
	e.mu.Unlock()

	s.claim(ctx, owner, id)
	return nil
}

// claim records id as the owner's active session and closes the one it
// replaces.
func (s *Store) claim(ctx context.Context, owner, id string) {
	if owner == "" {
		return
	}
	s.ownerMu.Lock()
	prev := s.owners[owner]
	s.owners[owner] = id
	s.ownerMu.Unlock()
	if prev == "" || prev == id {
		return
	}
	if err := s.End(ctx, prev); err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("could not close superseded session", "session_id", prev, "error", err)
		return
	}
	slog.Info("session superseded", "session_id", prev, "by", id)
}

// release forgets id as the owner's active session.
func (s *Store) release(owner, id string) {
	if owner == "" {
		return
	}
	s.ownerMu.Lock()
	if s.owners[owner] == id {
		delete(s.owners, owner)
	}
	s.ownerMu.Unlock()
}

// ActiveFor returns the owner's active session.
func (s *Store) ActiveFor(owner string) (string, bool) {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	id, ok := s.owners[owner]
	return id, ok
}

func (s *Store) load(ctx context.Context, id string) (memory.Session, error) {
	if s.persist == nil {
		return memory.Session{}, fmt.Errorf("session: resume %s: %w", id, ErrNotFound)
	}
	loaded, err := s.persist.Load(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return memory.Session{}, fmt.Errorf("session: resume %s: %w", id, ErrNotFound)
		}
		return memory.Session{}, fmt.Errorf("session: resume %s: %w", id, err)
	}
	s.trim(&loaded)
	return loaded, nil
}

// End closes the session id. Ending an already closed session is a no-op.
func (s *Store) End(ctx context.Context, id string) error {
	e, ok := s.sessions.Peek(id)
	if !ok {
		return fmt.Errorf("session: end %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	if !e.sess.Active {
		e.mu.Unlock()
		return nil
	}
	e.sess.Active = false
	s.addActive(-1)
	s.save(ctx, e)
	owner, n := e.sess.Owner, len(e.sess.Messages)
	e.mu.Unlock()

	s.release(owner, id)
	slog.Info("session ended", "session_id", id, "messages", n)
	return nil
}

// Append adds msgs to the session log in order and refreshes its activity
// time. Messages without a timestamp are stamped with the store clock.
func (s *Store) Append(ctx context.Context, id string, msgs ...memory.Message) error {
	e, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session: append %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sess.Active {
		return fmt.Errorf("session: append %s: %w", id, ErrSessionExpired)
	}
	now := s.now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		e.sess.Messages = append(e.sess.Messages, m)
	}
	s.trim(&e.sess)
	e.sess.LastActivityAt = now
	s.save(ctx, e)
	return nil
}

// Touch refreshes the activity time of an active session without adding
// messages.
func (s *Store) Touch(id string) {
	e, ok := s.sessions.Get(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.sess.Active {
		e.sess.LastActivityAt = s.now()
	}
	e.mu.Unlock()
}

// trim drops the oldest messages beyond LogSize.
func (s *Store) trim(sess *memory.Session) {
	if over := len(sess.Messages) - s.cfg.LogSize; over > 0 {
		sess.Messages = slices.Clone(sess.Messages[over:])
	}
}

// save persists e. Callers hold e.mu so saves of one session are ordered.
func (s *Store) save(ctx context.Context, e *entry) {
	if s.persist == nil {
		return
	}
	_ = s.persist.Save(ctx, e.sess.Clone())
}

// Get returns a copy of the session with its full log.
func (s *Store) Get(id string) (memory.Session, bool) {
	e, ok := s.sessions.Peek(id)
	if !ok {
		return memory.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), true
}

// IsActive reports whether id names an open session.
func (s *Store) IsActive(id string) bool {
	e, ok := s.sessions.Peek(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Active
}

// History returns the prompt window: the last WindowSize messages, oldest
// first.
func (s *Store) History(id string) []memory.Message {
	e, ok := s.sessions.Peek(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := e.sess.Messages
	if len(msgs) > s.cfg.WindowSize {
		msgs = msgs[len(msgs)-s.cfg.WindowSize:]
	}
	return slices.Clone(msgs)
}

// Active returns the IDs of open sessions, most recently active first.
func (s *Store) Active() []string {
	type item struct {
		id   string
		last time.Time
	}
	var items []item
	for _, id := range s.sessions.Keys() {
		e, ok := s.sessions.Peek(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.sess.Active {
			items = append(items, item{id: id, last: e.sess.LastActivityAt})
		}
		e.mu.Unlock()
	}
	slices.SortFunc(items, func(a, b item) int { return b.last.Compare(a.last) })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// Len returns the number of sessions held in memory, open or closed.
func (s *Store) Len() int { return s.sessions.Len() }

// HousekeepResult reports what one housekeeping pass changed.
type HousekeepResult struct {
	// Expired lists sessions closed for inactivity.
	Expired []string

	// Evicted lists sessions dropped to honour MaxSessions and removed from
	// the persister.
	Evicted []string
}

// Housekeep closes sessions idle for longer than InactivityTimeout as of
// now and deletes evicted sessions from the persister. It runs
// concurrently with appends; each session is locked only while it is
// examined.
func (s *Store) Housekeep(ctx context.Context, now time.Time) HousekeepResult {
	var res HousekeepResult
	for _, id := range s.sessions.Keys() {
		e, ok := s.sessions.Peek(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		expired := e.sess.Active && now.Sub(e.sess.LastActivityAt) > s.cfg.InactivityTimeout
		if expired {
			e.sess.Active = false
			s.addActive(-1)
			s.save(ctx, e)
			res.Expired = append(res.Expired, id)
		}
		owner := e.sess.Owner
		e.mu.Unlock()
		if expired {
			s.release(owner, id)
		}
	}

	s.evictMu.Lock()
	res.Evicted = s.evicted
	s.evicted = nil
	s.evictMu.Unlock()

	if s.persist != nil {
		for _, id := range res.Evicted {
			if s.sessions.Contains(id) {
				continue
			}
			_ = s.persist.Delete(ctx, id)
		}
		s.prunePersisted(ctx, &res)
	}

	if len(res.Expired) > 0 || len(res.Evicted) > 0 {
		slog.Info("session housekeeping",
			"expired", len(res.Expired),
			"evicted", len(res.Evicted),
			"sessions", s.sessions.Len(),
		)
	}
	return res
}

// prunePersisted deletes persisted sessions beyond MaxSessions that are not
// held in memory, such as leftovers from earlier runs.
func (s *Store) prunePersisted(ctx context.Context, res *HousekeepResult) {
	all, err := s.persist.Recent(ctx, 0)
	if err != nil || len(all) <= s.cfg.MaxSessions {
		return
	}
	for _, sess := range all[s.cfg.MaxSessions:] {
		if s.sessions.Contains(sess.ID) {
			continue
		}
		if err := s.persist.Delete(ctx, sess.ID); err == nil {
			res.Evicted = append(res.Evicted, sess.ID)
		}
	}
}

// Restore loads the most recently active persisted sessions into memory.
// Sessions already in memory are left alone. It returns the number loaded.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	recent, err := s.persist.Recent(ctx, s.cfg.MaxSessions)
	if err != nil {
		return 0, fmt.Errorf("session: restore: %w", err)
	}
	n := 0
	// Oldest first so the most recent end up most recently used.
	for _, sess := range slices.Backward(recent) {
		s.trim(&sess)
		e := &entry{sess: sess}
		if _, found, _ := s.sessions.PeekOrAdd(sess.ID, e); found {
			continue
		}
		if sess.Active {
			s.addActive(1)
			// Oldest first, so a newer active session of the same owner
			// closes an older one.
			s.claim(ctx, sess.Owner, sess.ID)
		}
		n++
	}
	slog.Info("sessions restored", "count", n)
	return n, nil
}
