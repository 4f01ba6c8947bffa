package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jarvis/pkg/memory"
)

var _ memory.Persister = (*Store)(nil)

// Store is a [memory.Persister] backed by a PostgreSQL connection pool.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save implements [memory.Persister] as an upsert on the session ID.
func (s *Store) Save(ctx context.Context, sess memory.Session) error {
	if sess.ID == "" {
		return errors.New("postgres store: save: empty session id")
	}
	msgs := sess.Messages
	if msgs == nil {
		msgs = []memory.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("postgres store: encode messages: %w", err)
	}

	const q = `
		INSERT INTO conversation_sessions (id, created_at, last_activity_at, active, owner, messages)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    last_activity_at = EXCLUDED.last_activity_at,
		    active           = EXCLUDED.active,
		    owner            = EXCLUDED.owner,
		    messages         = EXCLUDED.messages`

	if _, err := s.pool.Exec(ctx, q, sess.ID, sess.CreatedAt, sess.LastActivityAt, sess.Active, sess.Owner, raw); err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

// Load implements [memory.Persister].
func (s *Store) Load(ctx context.Context, id string) (memory.Session, error) {
	const q = `
		SELECT id, created_at, last_activity_at, active, owner, messages
		FROM   conversation_sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return memory.Session{}, fmt.Errorf("postgres store: load: %w", err)
	}
	sess, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Session{}, fmt.Errorf("postgres store: load %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return memory.Session{}, fmt.Errorf("postgres store: load: %w", err)
	}
	return sess, nil
}

// Delete implements [memory.Persister].
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// Recent implements [memory.Persister].
func (s *Store) Recent(ctx context.Context, limit int) ([]memory.Session, error) {
	q := `
		SELECT id, created_at, last_activity_at, active, owner, messages
		FROM   conversation_sessions
		ORDER  BY last_activity_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if sessions == nil {
		sessions = []memory.Session{}
	}
	return sessions, nil
}

// Ping implements [memory.Persister].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanSession(row pgx.CollectableRow) (memory.Session, error) {
	var (
		sess memory.Session
		raw  []byte
	)
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.LastActivityAt, &sess.Active, &sess.Owner, &raw); err != nil {
		return memory.Session{}, err
	}
	if err := json.Unmarshal(raw, &sess.Messages); err != nil {
		return memory.Session{}, fmt.Errorf("decode messages of %q: %w", sess.ID, err)
	}
	return sess, nil
}
