// Package backend selects and opens the store.Backend configured for the process.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/internal/store/file"
	"github.com/nextlevelbuilder/embedkit/internal/store/pg"
	"github.com/nextlevelbuilder/embedkit/internal/store/rediskv"
	"github.com/nextlevelbuilder/embedkit/internal/store/sqlite"
)

const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindFile     = "file"
)

// Kinds lists every supported backend, in documentation order.
var Kinds = []string{KindSQLite, KindPostgres, KindRedis, KindFile}

// Options carries the settings for every backend kind; only the fields for Kind are read.
type Options struct {
	Kind        string
	SQLitePath  string
	PostgresDSN string
	FilePath    string
	Redis       redis.UniversalClient
	RedisPrefix string
}

// Open opens the backend named by opts.Kind, creating its tables or files if absent.
func Open(ctx context.Context, opts Options) (store.Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case KindSQLite, "":
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend: path is required")
		}
		return sqlite.Open(opts.SQLitePath)
	case KindPostgres, "pg":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend: dsn is required")
		}
		return pg.Open(opts.PostgresDSN)
	case KindRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis backend: client is required")
		}
		return rediskv.New(ctx, opts.Redis, opts.RedisPrefix)
	case KindFile:
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file backend: path is required")
		}
		return file.New(opts.FilePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want one of %s)", opts.Kind, strings.Join(Kinds, ", "))
	}
}
