package store

const (
	previewPrefixLen = 10
	// Credentials shorter than this show no prefix at all.
	previewMinLen = 14
)

// MaskedBot is a bot as shown to clients: the credential is reduced to presence.
type MaskedBot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SiteID        string `json:"siteId"`
	WorkflowID    string `json:"workflowId"`
	HasCredential bool   `json:"hasCredential"`
	Color         string `json:"color"`
	Title         string `json:"title"`
	Position      string `json:"position"`
}

// Summary is the client-facing view of the config. It never carries a full secret.
type Summary struct {
	HasCredential     bool        `json:"hasCredential"`
	CredentialPreview string      `json:"credentialPreview"`
	Bots              []MaskedBot `json:"bots"`
}

// Mask builds the client-facing summary of cfg.
func Mask(cfg *Config) Summary {
	s := Summary{
		HasCredential:     cfg.Credential != "",
		CredentialPreview: Preview(cfg.Credential),
		Bots:              make([]MaskedBot, 0, len(cfg.Bots)),
	}
	for _, b := range cfg.Bots {
		s.Bots = append(s.Bots, MaskedBot{
			ID:            b.ID,
			Name:          b.Name,
			SiteID:        b.SiteID,
			WorkflowID:    b.WorkflowID,
			HasCredential: b.Credential != "",
			Color:         b.Color,
			Title:         b.Title,
			Position:      b.Position,
		})
	}
	return s
}

// Preview shows the first characters of a long credential followed by "...".
// Short credentials are reduced to "..." so they cannot be read back.
// Lengths count runes, so the prefix is always valid UTF-8.
func Preview(secret string) string {
	r := []rune(secret)
	switch {
	case len(r) == 0:
		return ""
	case len(r) < previewMinLen:
		return "..."
	default:
		return string(r[:previewPrefixLen]) + "..."
	}
}

// BotInput is a submitted bot. When CredentialSet is false the stored
// credential of the bot with the same id is kept.
type BotInput struct {
	Bot
	CredentialSet bool
}

// MergeBots resolves omitted credentials against the existing collection.
// The dashboard only ever sees masked bots, so it cannot echo credentials back.
// A kept credential that could not be opened on read carries its sealed value
// forward, so Write stores it unchanged instead of clearing it.
func MergeBots(existing []Bot, in []BotInput) []Bot {
	byID := make(map[string]Bot, len(existing))
	for _, b := range existing {
		byID[b.ID] = b
	}
	out := make([]Bot, 0, len(in))
	for _, bi := range in {
		b := bi.Bot
		b.unopened = ""
		if !bi.CredentialSet {
			prev := byID[b.ID]
			b.Credential, b.unopened = prev.Credential, prev.unopened
		}
		out = append(out, b)
	}
	return out
}
