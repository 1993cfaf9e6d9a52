// Package resolver maps an optional site id to the credential and workflow
// that should be used for an upstream session.
package resolver

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

// Resolution is the effective credential/workflow pair. Empty means absent.
type Resolution struct {
	Credential string
	WorkflowID string
	// BotID is set when a bot matched the site id.
	BotID string
	// Source names where Credential came from: "bot", "global", "env" or "".
	Source string
}

// Resolve applies the precedence bot credential, then global, then envDefault.
// A workflow id is only resolved from a matching bot.
func Resolve(cfg *store.Config, siteID, envDefault string) Resolution {
	var r Resolution
	if cfg == nil {
		cfg = &store.Config{}
	}

	if siteID != "" {
		if bot, ok := cfg.BotBySiteID(siteID); ok {
			r.BotID = bot.ID
			r.WorkflowID = bot.WorkflowID
			if bot.Credential != "" {
				r.Credential, r.Source = bot.Credential, "bot"
				return r
			}
		}
	}

	switch {
	case cfg.Credential != "":
		r.Credential, r.Source = cfg.Credential, "global"
	case envDefault != "":
		r.Credential, r.Source = envDefault, "env"
	}
	return r
}

// Resolver reads the current config on every call; it holds no state of its own.
type Resolver struct {
	reader     store.Reader
	envDefault func() string
}

// New creates a Resolver. envDefault is consulted per call so a reloaded
// environment default takes effect without a restart; it may be nil.
func New(reader store.Reader, envDefault func() string) *Resolver {
	if envDefault == nil {
		envDefault = func() string { return "" }
	}
	return &Resolver{reader: reader, envDefault: envDefault}
}

// Resolve reads the store and resolves siteID.
func (r *Resolver) Resolve(ctx context.Context, siteID string) (Resolution, error) {
	cfg, err := r.reader.Read(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("read config: %w", err)
	}
	return Resolve(cfg, siteID, r.envDefault()), nil
}
