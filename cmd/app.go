package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/embedkit/internal/backup"
	"github.com/nextlevelbuilder/embedkit/internal/config"
	"github.com/nextlevelbuilder/embedkit/internal/crypto"
	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/internal/store/backend"
	"github.com/nextlevelbuilder/embedkit/internal/store/rediskv"
)

// app is what the subcommands open from a validated config.
type app struct {
	cfg   *config.Config
	store *store.Store
	redis *redis.Client // nil unless the backend or the shared limiter needs it
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.ResolveEncryptionKey(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sealer, err := crypto.NewSealer(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg}
	opts := backend.Options{
		Kind:        cfg.Store.Backend,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PostgresDSN,
		FilePath:    cfg.Store.FilePath,
		RedisPrefix: cfg.Store.RedisPrefix,
	}
	if cfg.Store.Backend == backend.KindRedis || cfg.RateLimit.Shared {
		if rt.redis, err = rediskv.Dial(ctx, cfg.Store.RedisURL); err != nil {
			return nil, err
		}
		opts.Redis = rt.redis
	}

	be, err := backend.Open(ctx, opts)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	rt.store = store.New(be, sealer)
	return rt, nil
}

func (rt *app) Close() error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	return errors.Join(errs...)
}

func (rt *app) backupRunner(ctx context.Context) (*backup.Runner, error) {
	b := rt.cfg.Backup
	up, err := backup.NewS3Uploader(ctx, backup.S3Config{
		Bucket:          b.Bucket,
		Region:          b.Region,
		Endpoint:        b.Endpoint,
		UsePathStyle:    b.UsePathStyle,
		AccessKeyID:     b.AccessKeyID,
		SecretAccessKey: b.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewRunner(rt.store, up, rt.store.Backend(), b.Prefix), nil
}
