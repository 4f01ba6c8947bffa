package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/jarvis/internal/observe"
)

var (
	// ErrAllProvidersExhausted is matched (via errors.Is) by the error
	// returned when every provider in a chain failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrProviderTimeout is wrapped by an [AttemptError] when a provider did
	// not answer within the attempt timeout.
	ErrProviderTimeout = errors.New("provider timed out")

	// ErrEmptyChain is returned by [Execute] on a chain with no providers.
	ErrEmptyChain = errors.New("resilience: chain has no providers")
)

// AttemptError describes one failed attempt.
type AttemptError struct {
	Provider string
	Duration time.Duration
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every provider in a chain failed. It
// matches [ErrAllProvidersExhausted] and unwraps to the individual attempt
// errors.
type ExhaustedError struct {
	Capability string
	Attempts   []*AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Capability, ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

// Is reports whether target is [ErrAllProvidersExhausted].
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// Unwrap returns the attempt errors.
func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a
	}
	return out
}

// ChainConfig tunes a [Chain]. Zero fields take the documented defaults.
type ChainConfig struct {
	// Capability labels logs, spans and metrics ("llm", "tts", "search").
	Capability string

	// Timeout bounds each individual attempt. Default: 10s.
	Timeout time.Duration

	// RetryAfter is how long a broken mark keeps a provider behind
	// unknown ones before it decays to unknown. Default: 30s.
	RetryAfter time.Duration

	// Metrics, when set, receives per-attempt counters and chain latency.
	Metrics *observe.Metrics

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

type entry[T any] struct {
	id         string
	tags       []string
	value      T
	lastResort bool
	health     *health
}

// Chain is an ordered list of providers of type T.
type Chain[T any] struct {
	cfg ChainConfig

	mu      sync.RWMutex
	entries []*entry[T]
}

// NewChain returns an empty chain.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Chain[T]{cfg: cfg}
}

// Add appends a provider. Providers are tried in registration order among
// those with the same status.
func (c *Chain[T]) Add(id string, p T, tags ...string) {
	c.add(&entry[T]{id: id, tags: tags, value: p, health: &health{}})
}

// AddLastResort appends a provider that is always tried after every regular
// provider and is never reordered ahead of them.
func (c *Chain[T]) AddLastResort(id string, p T, tags ...string) {
	c.add(&entry[T]{id: id, tags: tags, value: p, lastResort: true, health: &health{}})
}

func (c *Chain[T]) add(e *entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

// Fork returns a new chain with the same configuration and providers. The
// providers' memoized status is shared with c; providers added to the fork
// afterwards are private to it.
func (c *Chain[T]) Fork() *Chain[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Chain[T]{cfg: c.cfg, entries: slices.Clone(c.entries)}
}

// Len returns the number of providers.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Capability returns the configured capability label.
func (c *Chain[T]) Capability() string { return c.cfg.Capability }

// Timeout returns the per-attempt timeout.
func (c *Chain[T]) Timeout() time.Duration { return c.cfg.Timeout }

// Specs returns a snapshot of the providers in the order the next call
// would try them.
func (c *Chain[T]) Specs() []ProviderSpec {
	ordered := c.ordered()
	out := make([]ProviderSpec, len(ordered))
	for i, o := range ordered {
		out[i] = ProviderSpec{
			ID:         o.e.id,
			Tags:       slices.Clone(o.e.tags),
			LastResort: o.e.lastResort,
			Status:     o.status,
			ChangedAt:  o.changedAt,
		}
	}
	return out
}

// First returns the provider that would be tried first.
func (c *Chain[T]) First() (T, bool) {
	ordered := c.ordered()
	if len(ordered) == 0 {
		var zero T
		return zero, false
	}
	return ordered[0].e.value, true
}

type snapshot[T any] struct {
	e         *entry[T]
	status    Status
	changedAt time.Time
}

// ordered returns the attempt order: regular providers by status rank
// (working, unknown, broken) with registration order as tie-breaker, then
// last-resort providers in registration order.
func (c *Chain[T]) ordered() []snapshot[T] {
	now := c.cfg.Now()
	c.mu.RLock()
	out := make([]snapshot[T], len(c.entries))
	for i, e := range c.entries {
		st, at := e.health.current(now, c.cfg.RetryAfter)
		out[i] = snapshot[T]{e: e, status: st, changedAt: at}
	}
	c.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b snapshot[T]) int {
		if a.e.lastResort != b.e.lastResort {
			if a.e.lastResort {
				return 1
			}
			return -1
		}
		if a.e.lastResort {
			return 0
		}
		return a.status.rank() - b.status.rank()
	})
	return out
}

// Result is the outcome of a successful [Execute].
type Result[R any] struct {
	// Value is what the serving provider returned.
	Value R

	// Provider is the ID of the provider that served the request.
	Provider string

	// Attempts counts providers tried, including the successful one.
	Attempts int
}

// closer is implemented by results that hold resources, such as open audio
// streams. A result that arrives after its attempt already timed out is
// closed instead of leaked.
type closer interface {
	Close() error
}

type outcome[R any] struct {
	value R
	err   error
}

// Execute runs fn against each provider of c in attempt order until one
// succeeds. Each attempt receives a context bounded by the chain timeout.
//
// A failed or timed-out attempt marks its provider broken and moves on; a
// success marks it working. When ctx itself is cancelled, Execute returns
// ctx.Err() immediately without marking the in-flight provider. When every
// provider fails the error is an [*ExhaustedError].
//
// Package-level because methods cannot have their own type parameters.
func Execute[T any, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (Result[R], error) {
	var zero Result[R]
	ordered := c.ordered()
	if len(ordered) == 0 {
		return zero, ErrEmptyChain
	}

	capability := c.cfg.Capability
	ctx, span := observe.StartSpan(ctx, "resilience."+capability)
	defer span.End()

	start := c.cfg.Now()
	var failures []*AttemptError
	for i, o := range ordered {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptStart := time.Now()
		v, err := attempt(ctx, c.cfg.Timeout, o.e.value, fn)
		elapsed := time.Since(attemptStart)

		if err == nil {
			prev := o.e.health.mark(StatusWorking, c.cfg.Now())
			if prev != StatusWorking {
				slog.Debug("provider marked working", "capability", capability, "provider", o.e.id)
			}
			c.record(ctx, o.e.id, "ok")
			if m := c.cfg.Metrics; m != nil {
				if h := m.ChainDuration(capability); h != nil {
					h.Record(ctx, c.cfg.Now().Sub(start).Seconds())
				}
			}
			span.SetAttributes(
				attribute.String("provider", o.e.id),
				attribute.Int("attempts", i+1),
			)
			return Result[R]{Value: v, Provider: o.e.id, Attempts: i + 1}, nil
		}

		// Parent cancellation is not the provider's fault.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		status := "error"
		if errors.Is(err, ErrProviderTimeout) {
			status = "timeout"
		}
		o.e.health.mark(StatusBroken, c.cfg.Now())
		c.record(ctx, o.e.id, status)
		if m := c.cfg.Metrics; m != nil {
			m.RecordProviderError(ctx, capability, o.e.id)
		}
		observe.Logger(ctx).Warn("provider failed, trying next",
			"capability", capability,
			"provider", o.e.id,
			"error", err,
		)
		failures = append(failures, &AttemptError{Provider: o.e.id, Duration: elapsed, Err: err})
	}

	if m := c.cfg.Metrics; m != nil {
		m.RecordChainExhausted(ctx, capability)
	}
	exhausted := &ExhaustedError{Capability: capability, Attempts: failures}
	span.SetStatus(codes.Error, ErrAllProvidersExhausted.Error())
	return zero, exhausted
}

func (c *Chain[T]) record(ctx context.Context, provider, status string) {
	if m := c.cfg.Metrics; m != nil {
		m.RecordProviderRequest(ctx, c.cfg.Capability, provider, status)
	}
}

// attempt runs fn in its own goroutine so that a provider ignoring its
// context still cannot hold the chain past the timeout.
func attempt[T any, R any](ctx context.Context, timeout time.Duration, p T, fn func(context.Context, T) (R, error)) (R, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero R
				done <- outcome[R]{value: zero, err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		v, err := fn(attemptCtx, p)
		done <- outcome[R]{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return o.value, fmt.Errorf("%w after %s: %w", ErrProviderTimeout, timeout, o.err)
		}
		return o.value, o.err
	case <-attemptCtx.Done():
		go release(done)
		var zero R
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrProviderTimeout, timeout)
	}
}

// release waits for an abandoned attempt and closes its result if it
// succeeded late.
func release[R any](done <-chan outcome[R]) {
	o := <-done
	if o.err != nil {
		return
	}
	if cl, ok := any(o.value).(closer); ok {
		_ = cl.Close()
	}
}
