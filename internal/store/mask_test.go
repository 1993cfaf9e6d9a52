package store

import (
	"testing"
	"unicode/utf8"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"sk-short", "..."},
		{"sk-abcdefghi", "..."},
		{"sk-abcdefghij", "..."},
		{"sk-abcdefghijk", "sk-abcdefg..."},
		{"sk-proj-0123456789abcdef", "sk-proj-01..."},
		{"sk-clé-ünïcødé-x", "sk-clé-ünï..."},
		{"ключ-секрет-длинный", "ключ-секре..."},
		{"ключ-ключ", "..."},
	}
	for _, tt := range tests {
		got := Preview(tt.in)
		if got != tt.want {
			t.Errorf("Preview(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Preview(%q) = %q is not valid UTF-8", tt.in, got)
		}
	}
}

func TestMask_NeverCarriesSecrets(t *testing.T) {
	cfg := &Config{
		Credential: "sk-global-secret-value",
		Bots: []Bot{
			{ID: "b1", Name: "A", SiteID: "a", WorkflowID: "wf_a", Credential: "sk-bot-secret"},
			{ID: "b2", Name: "B", SiteID: "b", WorkflowID: "wf_b"},
		},
	}
	s := Mask(cfg)
	if !s.HasCredential || s.CredentialPreview != "sk-global-..." {
		t.Errorf("global summary = %+v", s)
	}
	if len(s.Bots) != 2 {
		t.Fatalf("got %d bots", len(s.Bots))
	}
	if !s.Bots[0].HasCredential || s.Bots[1].HasCredential {
		t.Errorf("hasCredential flags wrong: %+v", s.Bots)
	}
}

func TestMask_Empty(t *testing.T) {
	s := Mask(&Config{})
	if s.HasCredential || s.CredentialPreview != "" {
		t.Errorf("empty config summary = %+v", s)
	}
	if s.Bots == nil {
		t.Error("Bots must encode as [] not null")
	}
}

func TestMergeBots(t *testing.T) {
	existing := []Bot{
		{ID: "b1", SiteID: "a", Credential: "sk-kept"},
		{ID: "b2", SiteID: "b", Credential: "sk-replaced"},
	}
	in := []BotInput{
		{Bot: Bot{ID: "b1", SiteID: "a"}},
		{Bot: Bot{ID: "b2", SiteID: "b", Credential: "sk-new"}, CredentialSet: true},
		{Bot: Bot{ID: "b3", SiteID: "c", Credential: ""}, CredentialSet: true},
		{Bot: Bot{ID: "b4", SiteID: "d"}},
	}
	got := MergeBots(existing, in)

	want := map[string]string{"b1": "sk-kept", "b2": "sk-new", "b3": "", "b4": ""}
	if len(got) != len(want) {
		t.Fatalf("got %d bots", len(got))
	}
	for _, b := range got {
		if b.Credential != want[b.ID] {
			t.Errorf("bot %s credential = %q, want %q", b.ID, b.Credential, want[b.ID])
		}
	}
}

func TestMergeBots_CarriesUnopenedCredential(t *testing.T) {
	existing := []Bot{
		{ID: "b1", SiteID: "a", unopened: "v1:sealed"},
	}
	in := []BotInput{
		{Bot: Bot{ID: "b1", SiteID: "a", Name: "renamed"}},
		{Bot: Bot{ID: "b2", SiteID: "b", unopened: "v1:forged"}},
	}
	got := MergeBots(existing, in)
	if got[0].Credential != "" || got[0].unopened != "v1:sealed" {
		t.Errorf("kept bot = %+v, want sealed value carried", got[0])
	}
	if got[1].unopened != "" {
		t.Errorf("new bot carried %q", got[1].unopened)
	}

	// An explicit credential replaces the unreadable one.
	got = MergeBots(existing, []BotInput{{Bot: Bot{ID: "b1", SiteID: "a", Credential: "sk-new"}, CredentialSet: true}})
	if got[0].Credential != "sk-new" || got[0].unopened != "" {
		t.Errorf("replaced bot = %+v", got[0])
	}
}
