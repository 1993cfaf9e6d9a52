// Package backup uploads snapshots of the config store to object storage.
// Secrets stay sealed in the archive, so restoring one requires the same
// master secret that wrote it.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

const archiveVersion = 1

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Snapshotter returns the persisted config with secrets sealed.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
}

// Archive is the JSON document written per backup.
type Archive struct {
	Version   int             `json:"version"`
	Backend   string          `json:"backend"`
	CreatedAt time.Time       `json:"createdAt"`
	Config    *store.Snapshot `json:"config"`
}

// Runner takes snapshots and uploads them under prefix.
type Runner struct {
	source   Snapshotter
	uploader Uploader
	backend  string
	prefix   string
	now      func() time.Time
}

func NewRunner(source Snapshotter, uploader Uploader, backend, prefix string) *Runner {
	return &Runner{source: source, uploader: uploader, backend: backend, prefix: prefix, now: time.Now}
}

// Run uploads one archive and returns its object key.
func (r *Runner) Run(ctx context.Context) (string, error) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	created := r.now().UTC()
	data, err := json.MarshalIndent(Archive{
		Version:   archiveVersion,
		Backend:   r.backend,
		CreatedAt: created,
		Config:    snap,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	key := r.prefix + "config-" + created.Format("20060102T150405Z") + ".json"
	if err := r.uploader.Upload(ctx, key, data); err != nil {
		return "", err
	}
	slog.Info("backup.uploaded", "key", key, "bots", len(snap.Bots), "bytes", len(data))
	return key, nil
}
