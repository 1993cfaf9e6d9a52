// Package pg implements store.Backend backed by Postgres.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	uniqueViolation  = "23505"
	siteIDConstraint = "embed_bots_site_id_key"
)

// PGConfigStore implements store.Backend on the embed_config / embed_bots tables.
type PGConfigStore struct {
	db *sqlx.DB
}

var _ store.Backend = (*PGConfigStore)(nil)

// Open connects to dsn and applies pending migrations.
func Open(dsn string) (*PGConfigStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewPGConfigStore(db), nil
}

// NewPGConfigStore wraps an already-migrated connection.
func NewPGConfigStore(db *sql.DB) *PGConfigStore {
	return &PGConfigStore{db: sqlx.NewDb(db, "pgx")}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PGConfigStore) Name() string { return "postgres" }

// Load reads config and bots from one repeatable-read snapshot.
func (s *PGConfigStore) Load(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &store.Snapshot{Bots: []store.SealedBot{}}
	err = tx.GetContext(ctx, &snap.Credential, `SELECT credential FROM embed_config WHERE id = 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select config: %w", err)
	}

	if err := tx.SelectContext(ctx, &snap.Bots,
		`SELECT id, name, site_id, workflow_id, credential, color, title, position
		 FROM embed_bots ORDER BY name`); err != nil {
		return nil, fmt.Errorf("select bots: %w", err)
	}
	return snap, tx.Commit()
}

// Replace applies u in one transaction. The config row is locked first so
// concurrent writers serialize and never merge their bot sets.
func (s *PGConfigStore) Replace(ctx context.Context, u store.SealedUpdate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM embed_config WHERE id = 1 FOR UPDATE`); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}

	if u.Credential != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE embed_config SET credential = $1, updated_at = now() WHERE id = 1`,
			*u.Credential); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}

	if u.Bots != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embed_bots`); err != nil {
			return fmt.Errorf("clear bots: %w", err)
		}
		for _, b := range *u.Bots {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO embed_bots (id, name, site_id, workflow_id, credential, color, title, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				b.ID, b.Name, b.SiteID, b.WorkflowID, b.Credential, b.Color, b.Title, b.Position)
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

func (s *PGConfigStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGConfigStore) Close() error { return s.db.Close() }

func isUniqueSiteID(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == siteIDConstraint
}
