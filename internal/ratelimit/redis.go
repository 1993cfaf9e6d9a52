package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares windows across instances through INCR + PEXPIRE.
// When Redis is unreachable it fails open and logs the error.
type Redis struct {
	client redis.UniversalClient
	prefix string
	name   string

	mu     sync.RWMutex
	policy Policy
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a shared limiter. Keys are stored as <prefix>rl:<name>:<key>.
func NewRedis(client redis.UniversalClient, prefix, name string, p Policy) *Redis {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return &Redis{client: client, prefix: prefix, name: name, policy: p}
}

func (r *Redis) Allow(ctx context.Context, key string) Result {
	r.mu.RLock()
	p := r.policy
	r.mu.RUnlock()
	if p.Limit <= 0 {
		return Result{Allowed: true}
	}

	k := r.prefix + "rl:" + r.name + ":" + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		slog.Warn("ratelimit.redis_error", "limiter", r.name, "error", err)
		return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit}
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	// A fresh key has no expiry yet (PTTL -1).
	if count == 1 || remaining < 0 {
		if err := r.client.PExpire(ctx, k, p.Window).Err(); err != nil {
			slog.Warn("ratelimit.redis_error", "limiter", r.name, "error", err)
		}
		remaining = p.Window
	}
	resetAt := time.Now().Add(remaining)

	if count > p.Limit {
		slog.Warn("security.rate_limited", "limiter", r.name, "key", key, "limit", p.Limit)
		return Result{Allowed: false, Limit: p.Limit, Remaining: 0, ResetAt: resetAt}
	}
	return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit - count, ResetAt: resetAt}
}

// SetPolicy swaps the budget; existing keys keep their expiry.
func (r *Redis) SetPolicy(p Policy) {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
}
