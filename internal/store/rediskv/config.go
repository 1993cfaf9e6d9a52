// Package rediskv implements store.Backend on Redis (hosted key-value mode).
//
// Layout, under a configurable prefix:
//
//	<prefix>config  hash  credential -> sealed global credential
//	<prefix>bots    hash  site id    -> JSON-encoded store.SealedBot
package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

const DefaultPrefix = "embedkit:"

// ConfigStore implements store.Backend with MULTI/EXEC transactions.
type ConfigStore struct {
	client    redis.UniversalClient
	configKey string
	botsKey   string
}

var _ store.Backend = (*ConfigStore)(nil)

// Dial parses a redis:// URL and verifies the server is reachable.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// New creates the store and seeds the empty global credential if absent.
func New(ctx context.Context, client redis.UniversalClient, prefix string) (*ConfigStore, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &ConfigStore{
		client:    client,
		configKey: prefix + "config",
		botsKey:   prefix + "bots",
	}
	if err := client.HSetNX(ctx, s.configKey, "credential", "").Err(); err != nil {
		return nil, fmt.Errorf("init config key: %w", err)
	}
	return s, nil
}

func (s *ConfigStore) Name() string { return "redis" }

func (s *ConfigStore) Load(ctx context.Context) (*store.Snapshot, error) {
	var credCmd *redis.StringCmd
	var botsCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		credCmd = pipe.HGet(ctx, s.configKey, "credential")
		botsCmd = pipe.HGetAll(ctx, s.botsKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load config: %w", err)
	}

	snap := &store.Snapshot{Credential: credCmd.Val()}
	bots, err := decodeBots(botsCmd.Val())
	if err != nil {
		return nil, err
	}
	snap.Bots = bots
	return snap, nil
}

func (s *ConfigStore) Replace(ctx context.Context, u store.SealedUpdate) error {
	var fields map[string]any
	if u.Bots != nil {
		var err error
		if fields, err = encodeBots(*u.Bots); err != nil {
			return err
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if u.Credential != nil {
			pipe.HSet(ctx, s.configKey, "credential", *u.Credential)
		}
		if u.Bots != nil {
			pipe.Del(ctx, s.botsKey)
			if len(fields) > 0 {
				pipe.HSet(ctx, s.botsKey, fields)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (s *ConfigStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close is a no-op: the client is shared with the rate limiter and closed by its owner.
func (s *ConfigStore) Close() error { return nil }

// encodeBots keys rows by site id. A repeated site id would silently
// overwrite a hash field, so it is rejected before anything is sent.
func encodeBots(bots []store.SealedBot) (map[string]any, error) {
	fields := make(map[string]any, len(bots))
	for _, b := range bots {
		if _, dup := fields[b.SiteID]; dup {
			return nil, fmt.Errorf("%w: %q", store.ErrDuplicateSiteID, b.SiteID)
		}
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal bot %q: %w", b.ID, err)
		}
		fields[b.SiteID] = string(data)
	}
	return fields, nil
}

func decodeBots(raw map[string]string) ([]store.SealedBot, error) {
	bots := make([]store.SealedBot, 0, len(raw))
	for siteID, data := range raw {
		var b store.SealedBot
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("decode bot %q: %w", siteID, err)
		}
		b.SiteID = siteID
		bots = append(bots, b)
	}
	store.SortSealedBots(bots)
	return bots, nil
}
