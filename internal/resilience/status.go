// Package resilience provides the provider fallback chain used for speech
// synthesis, inference and search.
//
// A [Chain] is an ordered list of interchangeable providers of one type.
// [Execute] tries them one at a time, each attempt bounded by its own
// timeout, and returns the first success together with the ID of the
// provider that served it. Every attempt updates that provider's advisory
// [Status]; the status only influences ordering on later calls and never
// removes a provider from the chain.
//
// All types are safe for concurrent use.
package resilience

import (
	"sync"
	"time"
)

// Status is the memoized health of one provider.
type Status int

const (
	// StatusUnknown means the provider has not been tried yet, or its last
	// failure is older than the chain's retry window.
	StatusUnknown Status = iota

	// StatusWorking means the last attempt succeeded.
	StatusWorking

	// StatusBroken means the last attempt failed or timed out.
	StatusBroken
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusWorking:
		return "working"
	case StatusBroken:
		return "broken"
	default:
		return "invalid"
	}
}

// rank orders statuses for attempt ordering: lower goes first.
func (s Status) rank() int {
	switch s {
	case StatusWorking:
		return 0
	case StatusUnknown:
		return 1
	default:
		return 2
	}
}

// ProviderSpec is a read-only snapshot of one chain entry.
type ProviderSpec struct {
	// ID names the provider in logs, metrics and results.
	ID string

	// Tags are free-form capability labels, e.g. "cloud", "local", "premium".
	Tags []string

	// LastResort providers are always tried after every other provider,
	// whatever their status.
	LastResort bool

	// Status is the memoized health at snapshot time.
	Status Status

	// ChangedAt is when Status was last set. Zero for never-tried providers.
	ChangedAt time.Time
}

// health is the mutable status of one provider. It is shared by every chain
// forked from the chain that registered the provider.
type health struct {
	mu        sync.Mutex
	status    Status
	changedAt time.Time
}

// current returns the status as seen at now, decaying a broken mark that is
// older than retryAfter back to unknown.
func (h *health) current(now time.Time, retryAfter time.Duration) (Status, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusBroken && retryAfter > 0 && now.Sub(h.changedAt) >= retryAfter {
		h.status = StatusUnknown
		h.changedAt = now
	}
	return h.status, h.changedAt
}

func (h *health) mark(s Status, now time.Time) (prev Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev = h.status
	h.status = s
	h.changedAt = now
	return prev
}
