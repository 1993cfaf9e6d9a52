package store

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateSiteID is returned when a write would leave two bots with the same site id.
	ErrDuplicateSiteID = errors.New("duplicate site id")
	// ErrInvalidBot is returned when a submitted bot is missing a required field.
	ErrInvalidBot = errors.New("invalid bot")
)

// Bot is one registered embeddable widget. Credential is plaintext in memory
// and sealed at rest.
type Bot struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	SiteID     string `json:"siteId" yaml:"siteId"`
	WorkflowID string `json:"workflowId" yaml:"workflowId"`
	Credential string `json:"credential,omitempty" yaml:"credential,omitempty"`
	Color      string `json:"color" yaml:"color"`
	Title      string `json:"title" yaml:"title"`
	Position   string `json:"position" yaml:"position"`

	// unopened holds the sealed credential when Read could not decrypt it.
	unopened string
}

// Config is the decrypted view of the store: the global credential plus bots ordered by name.
type Config struct {
	Credential string
	Bots       []Bot
}

// BotBySiteID returns the bot registered for siteID.
func (c *Config) BotBySiteID(siteID string) (Bot, bool) {
	for _, b := range c.Bots {
		if b.SiteID == siteID {
			return b, true
		}
	}
	return Bot{}, false
}

// Update is a partial write. Nil fields are left untouched; a non-nil Bots
// replaces the entire bot collection.
type Update struct {
	Credential *string
	Bots       *[]Bot
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Credential == nil && u.Bots == nil
}

// Reader is the read side of the config store.
type Reader interface {
	Read(ctx context.Context) (*Config, error)
}

// Writer is the write side of the config store.
type Writer interface {
	Write(ctx context.Context, u Update) error
}

// ConfigStore is the full store surface used by the HTTP layer and CLI.
type ConfigStore interface {
	Reader
	Writer
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// SealedBot is a bot row as persisted: Credential holds the sealed value.
type SealedBot struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	SiteID     string `json:"siteId" db:"site_id"`
	WorkflowID string `json:"workflowId" db:"workflow_id"`
	Credential string `json:"credential,omitempty" db:"credential"`
	Color      string `json:"color" db:"color"`
	Title      string `json:"title" db:"title"`
	Position   string `json:"position" db:"position"`
}

// Snapshot is the persisted state with secrets still sealed.
type Snapshot struct {
	Credential string      `json:"credential"`
	Bots       []SealedBot `json:"bots"`
}

// SealedUpdate is an Update whose secrets have already been sealed.
type SealedUpdate struct {
	Credential *string
	Bots       *[]SealedBot
}

// Backend persists sealed config. Implementations never see plaintext secrets.
//
// Replace must be all-or-nothing: when Bots is non-nil every existing bot is
// removed and the new set inserted in the same transaction as the credential
// update. A duplicate site id must fail the whole call with ErrDuplicateSiteID.
// Load must return bots ordered by name.
type Backend interface {
	Name() string
	Load(ctx context.Context) (*Snapshot, error)
	Replace(ctx context.Context, u SealedUpdate) error
	Ping(ctx context.Context) error
	Close() error
}
