// Package store persists the global credential and the bot collection with
// every secret sealed at rest. Backends live in subpackages and only ever see
// sealed values; Store is the single place that seals and opens them.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nextlevelbuilder/embedkit/internal/crypto"
)

// Store implements ConfigStore on top of a Backend.
type Store struct {
	backend Backend
	sealer  *crypto.Sealer
}

var _ ConfigStore = (*Store)(nil)

// New wraps backend with sealing.
func New(backend Backend, sealer *crypto.Sealer) *Store {
	return &Store{backend: backend, sealer: sealer}
}

// Read loads the config and opens every secret. A secret that fails to
// decrypt is logged and surfaced as empty; it never fails the whole read.
func (s *Store) Read(ctx context.Context) (*Config, error) {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	global, _ := s.open("global", snap.Credential)
	cfg := &Config{
		Credential: global,
		Bots:       make([]Bot, 0, len(snap.Bots)),
	}
	for _, sb := range snap.Bots {
		b := Bot{
			ID:         sb.ID,
			Name:       sb.Name,
			SiteID:     sb.SiteID,
			WorkflowID: sb.WorkflowID,
			Color:      sb.Color,
			Title:      sb.Title,
			Position:   sb.Position,
		}
		var ok bool
		if b.Credential, ok = s.open("bot:"+sb.SiteID, sb.Credential); !ok {
			b.unopened = sb.Credential
		}
		cfg.Bots = append(cfg.Bots, b)
	}
	sortBots(cfg.Bots)
	return cfg, nil
}

func (s *Store) open(field, value string) (string, bool) {
	plain, format, err := s.sealer.Open(value)
	if err != nil {
		slog.Warn("store.decrypt_failed", "field", field, "format", format.String(), "error", err)
		return "", false
	}
	if format == crypto.FormatPlaintext {
		slog.Debug("store.legacy_plaintext", "field", field)
	}
	return plain, true
}

// sealBot seals b's credential. An empty credential that was unreadable on
// read keeps its sealed value; it is never re-sealed as empty.
func (s *Store) sealBot(b Bot) (string, error) {
	if b.Credential == "" && b.unopened != "" {
		slog.Warn("store.decrypt_failed", "field", "bot:"+b.SiteID, "action", "preserved")
		return b.unopened, nil
	}
	return s.sealer.Seal(b.Credential)
}

// Write validates and seals u, then hands it to the backend as one atomic replace.
func (s *Store) Write(ctx context.Context, u Update) error {
	if u.Empty() {
		return nil
	}

	var sealed SealedUpdate
	if u.Credential != nil {
		v, err := s.sealer.Seal(*u.Credential)
		if err != nil {
			return fmt.Errorf("seal global credential: %w", err)
		}
		sealed.Credential = &v
	}

	if u.Bots != nil {
		if err := ValidateBots(*u.Bots); err != nil {
			return err
		}
		rows := make([]SealedBot, 0, len(*u.Bots))
		for _, b := range *u.Bots {
			cred, err := s.sealBot(b)
			if err != nil {
				return fmt.Errorf("seal credential for site %q: %w", b.SiteID, err)
			}
			rows = append(rows, SealedBot{
				ID:         b.ID,
				Name:       b.Name,
				SiteID:     b.SiteID,
				WorkflowID: b.WorkflowID,
				Credential: cred,
				Color:      b.Color,
				Title:      b.Title,
				Position:   b.Position,
			})
		}
		sealed.Bots = &rows
	}

	if err := s.backend.Replace(ctx, sealed); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	attrs := []any{"backend", s.backend.Name(), "credential_updated", u.Credential != nil}
	if u.Bots != nil {
		attrs = append(attrs, "bots", len(*u.Bots))
	}
	slog.Info("store.config_written", attrs...)
	return nil
}

// Snapshot returns the persisted state with secrets still sealed (backups).
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	return s.backend.Load(ctx)
}

// Unsealed lists the stored secrets still held as legacy plaintext, labelled
// the way decrypt failures are logged. They are sealed on the next write.
func Unsealed(snap *Snapshot) []string {
	var fields []string
	if snap.Credential != "" && !crypto.IsSealed(snap.Credential) {
		fields = append(fields, "global")
	}
	for _, b := range snap.Bots {
		if b.Credential != "" && !crypto.IsSealed(b.Credential) {
			fields = append(fields, "bot:"+b.SiteID)
		}
	}
	return fields
}

func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

func (s *Store) Backend() string { return s.backend.Name() }

func (s *Store) Close() error { return s.backend.Close() }

func sortBots(bots []Bot) {
	sort.SliceStable(bots, func(i, j int) bool { return bots[i].Name < bots[j].Name })
}

// SortSealedBots orders rows by name, the order every backend must return.
func SortSealedBots(bots []SealedBot) {
	sort.SliceStable(bots, func(i, j int) bool { return bots[i].Name < bots[j].Name })
}
