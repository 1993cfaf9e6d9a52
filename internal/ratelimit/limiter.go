// Package ratelimit implements per-client fixed-window request counters.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultWindow        = time.Minute
	DefaultMutationLimit = 30
	DefaultIssuanceLimit = 20

	// DefaultMaxKeys bounds how many client windows are tracked at once.
	// The least recently seen client is evicted first.
	DefaultMaxKeys = 10000
)

// Policy is a request budget per window. A Limit <= 0 disables limiting.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// Limiter admits or rejects requests for a client key.
type Limiter interface {
	Allow(ctx context.Context, key string) Result
}

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local Limiter. It is best-effort: limits are not shared
// across instances and a restart clears them.
type Memory struct {
	name string

	mu      sync.Mutex
	policy  Policy
	windows *simplelru.LRU[string, *window]
	now     func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates a limiter tracking at most maxKeys clients.
// name labels log events (e.g. "mutation", "issuance").
func NewMemory(name string, p Policy, maxKeys int) *Memory {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	lru, err := simplelru.NewLRU[string, *window](maxKeys, nil)
	if err != nil {
		// only fails for a non-positive size, which is excluded above
		panic(err)
	}
	return &Memory{name: name, policy: p, windows: lru, now: time.Now}
}

// Allow counts one request for key.
func (m *Memory) Allow(_ context.Context, key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.policy
	now := m.now()
	if p.Limit <= 0 {
		return Result{Allowed: true}
	}

	w, ok := m.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(p.Window)}
		m.windows.Add(key, w)
		return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit - 1, ResetAt: w.resetAt}
	}

	if w.count >= p.Limit {
		slog.Warn("security.rate_limited", "limiter", m.name, "key", key, "limit", p.Limit)
		return Result{Allowed: false, Limit: p.Limit, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit - w.count, ResetAt: w.resetAt}
}

// SetPolicy swaps the budget. Open windows keep their reset time and count.
func (m *Memory) SetPolicy(p Policy) {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
}

// Policy returns the active budget.
func (m *Memory) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Len reports how many client windows are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows.Len()
}
