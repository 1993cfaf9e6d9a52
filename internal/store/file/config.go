// Package file implements store.Backend as a single JSON document on disk (standalone mode).
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

// ConfigFile stores the sealed snapshot at path. Writes go to a temp file in
// the same directory and are renamed over the original, so readers see either
// the old or the new document.
type ConfigFile struct {
	path string
	mu   sync.Mutex // serializes writers only
}

var _ store.Backend = (*ConfigFile)(nil)

// New opens (or creates) the config document at path.
func New(path string) (*ConfigFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	f := &ConfigFile{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := f.save(&store.Snapshot{Bots: []store.SealedBot{}}); err != nil {
			return nil, fmt.Errorf("init config file: %w", err)
		}
		slog.Info("config file created", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	return f, nil
}

func (f *ConfigFile) Name() string { return "file" }

func (f *ConfigFile) Load(_ context.Context) (*store.Snapshot, error) {
	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	store.SortSealedBots(snap.Bots)
	return snap, nil
}

func (f *ConfigFile) Replace(_ context.Context, u store.SealedUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return err
	}

	if u.Credential != nil {
		snap.Credential = *u.Credential
	}
	if u.Bots != nil {
		seen := make(map[string]struct{}, len(*u.Bots))
		for _, b := range *u.Bots {
			if _, dup := seen[b.SiteID]; dup {
				return fmt.Errorf("%w: %q", store.ErrDuplicateSiteID, b.SiteID)
			}
			seen[b.SiteID] = struct{}{}
		}
		snap.Bots = append([]store.SealedBot{}, *u.Bots...)
	}

	return f.save(snap)
}

func (f *ConfigFile) Ping(_ context.Context) error {
	_, err := os.Stat(f.path)
	return err
}

func (f *ConfigFile) Close() error { return nil }

func (f *ConfigFile) load() (*store.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if snap.Bots == nil {
		snap.Bots = []store.SealedBot{}
	}
	return &snap, nil
}

func (f *ConfigFile) save(snap *store.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}
