package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var botColumns = []string{"id", "name", "site_id", "workflow_id", "credential", "color", "title", "position"}

func TestLoad(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credential FROM embed_config WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"credential"}).AddRow("v1:global"))
	mock.ExpectQuery("SELECT id, name, site_id, workflow_id, credential, color, title, position\\s+FROM embed_bots ORDER BY name").
		WillReturnRows(sqlmock.NewRows(botColumns).
			AddRow("b1", "Alpha", "site-a", "wf_a", "v1:a", "#000", "Hi", "bottom-left").
			AddRow("b2", "Beta", "site-b", "wf_b", "", "#fff", "Hello", "bottom-right"))
	mock.ExpectCommit()

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Credential != "v1:global" {
		t.Errorf("credential = %q", snap.Credential)
	}
	if len(snap.Bots) != 2 {
		t.Fatalf("got %d bots", len(snap.Bots))
	}
	want := store.SealedBot{ID: "b1", Name: "Alpha", SiteID: "site-a", WorkflowID: "wf_a", Credential: "v1:a", Color: "#000", Title: "Hi", Position: "bottom-left"}
	if snap.Bots[0] != want {
		t.Errorf("bots[0] = %+v, want %+v", snap.Bots[0], want)
	}
}

func TestLoad_MissingConfigRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credential FROM embed_config").WillReturnRows(sqlmock.NewRows([]string{"credential"}))
	mock.ExpectQuery("FROM embed_bots").WillReturnRows(sqlmock.NewRows(botColumns))
	mock.ExpectCommit()

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Credential != "" || len(snap.Bots) != 0 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("SELECT id FROM embed_config WHERE id = 1 FOR UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestReplace_CredentialAndBots(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	cred := "v1:global"
	bots := []store.SealedBot{
		{ID: "b1", Name: "Alpha", SiteID: "site-a", WorkflowID: "wf_a", Credential: "v1:a"},
		{ID: "b2", Name: "Beta", SiteID: "site-b", WorkflowID: "wf_b"},
	}

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectExec("UPDATE embed_config SET credential = \\$1").WithArgs(cred).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM embed_bots").WillReturnResult(sqlmock.NewResult(0, 3))
	for _, b := range bots {
		mock.ExpectExec("INSERT INTO embed_bots").
			WithArgs(b.ID, b.Name, b.SiteID, b.WorkflowID, b.Credential, b.Color, b.Title, b.Position).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := s.Replace(context.Background(), store.SealedUpdate{Credential: &cred, Bots: &bots}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
}

func TestReplace_CredentialOnlyLeavesBots(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	cred := ""
	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectExec("UPDATE embed_config SET credential").WithArgs("").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Replace(context.Background(), store.SealedUpdate{Credential: &cred}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
}

func TestReplace_DuplicateSiteIDRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	bots := []store.SealedBot{
		{ID: "b1", Name: "Alpha", SiteID: "same", WorkflowID: "wf"},
		{ID: "b2", Name: "Beta", SiteID: "same", WorkflowID: "wf"},
	}

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectExec("DELETE FROM embed_bots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO embed_bots").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO embed_bots").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: siteIDConstraint})
	mock.ExpectRollback()

	err := s.Replace(context.Background(), store.SealedUpdate{Bots: &bots})
	if !errors.Is(err, store.ErrDuplicateSiteID) {
		t.Fatalf("err = %v, want ErrDuplicateSiteID", err)
	}
}

func TestReplace_DeleteFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPGConfigStore(db)

	bots := []store.SealedBot{{ID: "b1", Name: "Alpha", SiteID: "a", WorkflowID: "wf"}}
	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectExec("DELETE FROM embed_bots").WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	if err := s.Replace(context.Background(), store.SealedUpdate{Bots: &bots}); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsUniqueSiteID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"site_id", &pgconn.PgError{Code: "23505", ConstraintName: "embed_bots_site_id_key"}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "embed_bots_site_id_key"}), true},
		{"primary_key", &pgconn.PgError{Code: "23505", ConstraintName: "embed_bots_pkey"}, false},
		{"other_code", &pgconn.PgError{Code: "23503", ConstraintName: "embed_bots_site_id_key"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueSiteID(tt.err); got != tt.want {
				t.Errorf("isUniqueSiteID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	for _, name := range []string{"migrations/000001_init.up.sql", "migrations/000001_init.down.sql"} {
		if _, err := migrationsFS.ReadFile(name); err != nil {
			t.Errorf("missing embedded migration %s: %v", name, err)
		}
	}
}
