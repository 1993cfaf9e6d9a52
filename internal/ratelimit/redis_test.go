package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_WindowAdmitsExactlyLimit(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client, "embedkit:", "issuance", Policy{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.Allow(ctx, "10.0.0.1")
		if !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, 3-i)
		}
	}
	res := l.Allow(ctx, "10.0.0.1")
	if res.Allowed {
		t.Fatal("4th request admitted")
	}
	if ra := res.RetryAfter(time.Now()); ra <= 0 || ra > time.Minute {
		t.Errorf("RetryAfter = %v", ra)
	}

	if ttl := mr.TTL("embedkit:rl:issuance:10.0.0.1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("key ttl = %v, want within the window", ttl)
	}

	mr.FastForward(time.Minute)
	if !l.Allow(ctx, "10.0.0.1").Allowed {
		t.Fatal("request after window reset rejected")
	}
}

func TestRedis_KeysAreIndependent(t *testing.T) {
	_, client := newMiniredis(t)
	l := NewRedis(client, "embedkit:", "mutation", Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	if !l.Allow(ctx, "a").Allowed || !l.Allow(ctx, "b").Allowed {
		t.Fatal("first request per key must be admitted")
	}
	if l.Allow(ctx, "a").Allowed {
		t.Fatal("second request for a admitted")
	}
}

func TestRedis_RestoresMissingExpiry(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client, "embedkit:", "issuance", Policy{Limit: 5, Window: time.Minute})
	// A counter left without a TTL would otherwise block the key forever.
	mr.Set("embedkit:rl:issuance:k", "2")

	l.Allow(context.Background(), "k")
	if ttl := mr.TTL("embedkit:rl:issuance:k"); ttl <= 0 {
		t.Fatalf("ttl = %v, want expiry restored", ttl)
	}
}

func TestRedis_SetPolicy(t *testing.T) {
	_, client := newMiniredis(t)
	l := NewRedis(client, "embedkit:", "mutation", Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	l.Allow(ctx, "k")
	if l.Allow(ctx, "k").Allowed {
		t.Fatal("limit 1 admitted a second request")
	}
	l.SetPolicy(Policy{Limit: 5})
	if !l.Allow(ctx, "k").Allowed {
		t.Fatal("raised limit not applied")
	}
	l.SetPolicy(Policy{Limit: 0})
	if !l.Allow(ctx, "k").Allowed {
		t.Fatal("disabled limiter rejected a request")
	}
}

func TestRedis_FailsOpen(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client, "embedkit:", "issuance", Policy{Limit: 1, Window: time.Minute})
	mr.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "k").Allowed {
			t.Fatalf("request %d rejected while redis is down", i)
		}
	}
}
