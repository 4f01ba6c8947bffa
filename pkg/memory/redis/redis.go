// Package redis provides a Redis-backed [memory.Persister].
//
// Each session is stored as a JSON string under "<prefix>session:<id>". A
// sorted set "<prefix>sessions" scored by last activity (unix milliseconds)
// indexes the sessions for [Store.Recent].
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/jarvis/pkg/memory"
)

const defaultPrefix = "jarvis:"

// Option is a functional option for [New].
type Option func(*Store)

// WithPrefix sets the key prefix. Defaults to "jarvis:".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL expires session keys after d of inactivity. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// Store is a [memory.Persister] backed by a Redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewFromURL parses a redis:// URL, connects and verifies the connection.
func NewFromURL(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	client := goredis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *Store) indexKey() string           { return s.prefix + "sessions" }

// Save implements [memory.Persister].
func (s *Store) Save(ctx context.Context, sess memory.Session) error {
	if sess.ID == "" {
		return errors.New("redis store: save: empty session id")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis store: encode: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
			Score:  float64(sess.LastActivityAt.UnixMilli()),
			Member: sess.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: save: %w", err)
	}
	return nil
}

// Load implements [memory.Persister].
func (s *Store) Load(ctx context.Context, id string) (memory.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return memory.Session{}, fmt.Errorf("redis store: load %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return memory.Session{}, fmt.Errorf("redis store: load: %w", err)
	}
	var sess memory.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return memory.Session{}, fmt.Errorf("redis store: decode %q: %w", id, err)
	}
	return sess, nil
}

// Delete implements [memory.Persister].
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: delete: %w", err)
	}
	return nil
}

// Recent implements [memory.Persister]. Index entries whose session key has
// expired are pruned from the index as a side effect.
func (s *Store) Recent(ctx context.Context, limit int) ([]memory.Session, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: recent: %w", err)
	}
	if len(ids) == 0 {
		return []memory.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: recent: %w", err)
	}

	out := make([]memory.Session, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var sess memory.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, fmt.Errorf("redis store: decode %q: %w", ids[i], err)
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

// Ping implements [memory.Persister].
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ memory.Persister = (*Store)(nil)
