// Package guard gates configuration mutation behind a shared dashboard secret.
package guard

import (
	"crypto/subtle"
	"sync/atomic"
)

// Guard checks a provided secret against the configured one.
// With no secret configured every caller is authorized (local/dev use).
type Guard struct {
	secret atomic.Pointer[string]
}

// New creates a Guard for secret; "" leaves the guard open.
func New(secret string) *Guard {
	g := &Guard{}
	g.SetSecret(secret)
	return g
}

// SetSecret replaces the configured secret. Safe to call while requests are in flight.
func (g *Guard) SetSecret(secret string) {
	g.secret.Store(&secret)
}

// Required reports whether a secret is configured.
func (g *Guard) Required() bool {
	return *g.secret.Load() != ""
}

// Check reports whether provided authorizes the caller.
func (g *Guard) Check(provided string) bool {
	expected := *g.secret.Load()
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
