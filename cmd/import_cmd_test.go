package cmd

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

func TestParseImport_LegacyJSON(t *testing.T) {
	data := []byte(`{
	  "apiKey": "sk-global",
	  "bots": [
	    {"id": "b1", "name": "Support", "siteId": "support", "workflowId": "wf_1", "apiKey": "sk-own", "color": "#000"},
	    {"name": "Sales", "siteId": "sales", "workflowId": "wf_2"}
	  ]
	}`)
	u, err := parseImport("config.json", data)
	if err != nil {
		t.Fatalf("parseImport: %v", err)
	}
	if u.Credential == nil || *u.Credential != "sk-global" {
		t.Errorf("credential = %v", u.Credential)
	}
	bots := *u.Bots
	if len(bots) != 2 {
		t.Fatalf("got %d bots", len(bots))
	}
	if bots[0].Credential != "sk-own" || bots[0].ID != "b1" {
		t.Errorf("bots[0] = %+v", bots[0])
	}
	if bots[1].ID == "" {
		t.Error("missing id should be assigned")
	}
}

func TestParseImport_YAML(t *testing.T) {
	data := []byte(`
bots:
  - name: Docs
    siteId: docs
    workflowId: wf_docs
    credential: sk-docs
    position: bottom-left
`)
	u, err := parseImport("bots.yml", data)
	if err != nil {
		t.Fatalf("parseImport: %v", err)
	}
	if u.Credential != nil {
		t.Error("file without a global credential must leave it untouched")
	}
	got := (*u.Bots)[0]
	if got.SiteID != "docs" || got.Credential != "sk-docs" || got.Position != "bottom-left" {
		t.Errorf("bot = %+v", got)
	}
}

func TestParseImport_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want error
	}{
		{"duplicate", "c.json", `{"bots":[{"name":"A","siteId":"x","workflowId":"w"},{"name":"B","siteId":"x","workflowId":"w"}]}`, store.ErrDuplicateSiteID},
		{"missing_workflow", "c.json", `{"bots":[{"name":"A","siteId":"x"}]}`, store.ErrInvalidBot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseImport(tt.path, []byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := parseImport("c.json", []byte("{broken")); err == nil {
		t.Error("expected parse error")
	}
}

func TestWithoutSite(t *testing.T) {
	bots := []store.Bot{{SiteID: "a"}, {SiteID: "b"}}
	kept, removed := withoutSite(bots, "a")
	if !removed || len(kept) != 1 || kept[0].SiteID != "b" {
		t.Errorf("kept = %+v, removed = %v", kept, removed)
	}
	if _, removed := withoutSite(bots, "zzz"); removed {
		t.Error("unknown site reported as removed")
	}
}
