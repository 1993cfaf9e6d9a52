// Package sqlite implements store.Backend on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ConfigStore keeps the global credential in a single-row config table and
// bots in a table with a UNIQUE site_id.
type ConfigStore struct {
	db *sqlx.DB
	mu sync.Mutex // SQLite allows one writer; readers are not blocked
}

var _ store.Backend = (*ConfigStore)(nil)

// Open opens (or creates) the database at dbPath and initializes the schema.
func Open(dbPath string) (*ConfigStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &ConfigStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("config store opened", "backend", "sqlite", "path", dbPath)
	return s, nil
}

func (s *ConfigStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			credential TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			site_id TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL,
			credential TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			position TEXT NOT NULL DEFAULT ''
		)`,
		`INSERT OR IGNORE INTO config (id, credential) VALUES (1, '')`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

func (s *ConfigStore) Name() string { return "sqlite" }

// Load reads the credential and the bots inside one transaction so both
// come from the same snapshot.
func (s *ConfigStore) Load(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &store.Snapshot{Bots: []store.SealedBot{}}
	err = tx.GetContext(ctx, &snap.Credential, `SELECT credential FROM config WHERE id = 1`)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("select config: %w", err)
	}

	if err := tx.SelectContext(ctx, &snap.Bots,
		`SELECT id, name, site_id, workflow_id, credential, color, title, position
		 FROM bots ORDER BY name`); err != nil {
		return nil, fmt.Errorf("select bots: %w", err)
	}
	return snap, nil
}

// Replace applies u in a single transaction; any failure rolls back everything.
func (s *ConfigStore) Replace(ctx context.Context, u store.SealedUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if u.Credential != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE config SET credential = ?, updated_at = strftime('%s','now') WHERE id = 1`,
			*u.Credential); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}

	if u.Bots != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bots`); err != nil {
			return fmt.Errorf("clear bots: %w", err)
		}
		for _, b := range *u.Bots {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO bots (id, name, site_id, workflow_id, credential, color, title, position)
				 VALUES (:id, :name, :site_id, :workflow_id, :credential, :color, :title, :position)`, b)
			if err != nil {
				if isUniqueSiteID(err) {
					return fmt.Errorf("%w: %q", store.ErrDuplicateSiteID, b.SiteID)
				}
				return fmt.Errorf("insert bot %q: %w", b.ID, err)
			}
		}
	}

	return tx.Commit()
}

func (s *ConfigStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *ConfigStore) Close() error { return s.db.Close() }

func isUniqueSiteID(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "site_id")
}
