package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/internal/store/storetest"
)

func TestConfigFile_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		f, err := New(filepath.Join(t.TempDir(), "data", "config.json"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return f
	})
}

func TestNew_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	cred := "v1:kept"
	if err := f.Replace(context.Background(), store.SealedUpdate{Credential: &cred}); err != nil {
		t.Fatal(err)
	}

	again, err := New(path)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	snap, err := again.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Credential != "v1:kept" {
		t.Errorf("re-open reset the file: %+v", snap)
	}
}

func TestReplace_WritesOnlySealedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	bots := storetest.Bots("a", 1)
	if err := f.Replace(context.Background(), store.SealedUpdate{Bots: &bots}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"credential": "v1:sealed-a-0"`) {
		t.Errorf("file does not hold the sealed value as given:\n%s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
