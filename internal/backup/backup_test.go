package backup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

type fakeSource struct {
	snap *store.Snapshot
	err  error
}

func (f *fakeSource) Snapshot(context.Context) (*store.Snapshot, error) { return f.snap, f.err }

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memUploader) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memUploader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func TestRunner_Run(t *testing.T) {
	src := &fakeSource{snap: &store.Snapshot{
		Credential: "v1:aa:bb:cc",
		Bots:       []store.SealedBot{{ID: "b1", Name: "Alpha", SiteID: "a", WorkflowID: "wf", Credential: "v1:dd:ee:ff"}},
	}}
	up := &memUploader{}
	r := NewRunner(src, up, "sqlite", "embedkit/")
	r.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }

	key, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if key != "embedkit/config-20261017T093000Z.json" {
		t.Errorf("key = %q", key)
	}

	var a Archive
	if err := json.Unmarshal(up.objects[key], &a); err != nil {
		t.Fatalf("archive is not JSON: %v", err)
	}
	if a.Version != archiveVersion || a.Backend != "sqlite" {
		t.Errorf("archive header = %+v", a)
	}
	if a.Config.Credential != "v1:aa:bb:cc" || a.Config.Bots[0].Credential != "v1:dd:ee:ff" {
		t.Error("archive must carry sealed values unchanged")
	}
}

func TestRunner_Errors(t *testing.T) {
	snap := &store.Snapshot{}
	tests := []struct {
		name string
		src  *fakeSource
		up   *memUploader
		want string
	}{
		{"snapshot", &fakeSource{err: errors.New("db down")}, &memUploader{}, "snapshot"},
		{"upload", &fakeSource{snap: snap}, &memUploader{err: errors.New("denied")}, "denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.src, tt.up, "file", "").Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"0 3 * * *", "*/15 * * * *", "@daily"} {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v", expr, err)
		}
	}
	for _, expr := range []string{"", "every day", "* * *"} {
		if err := ValidateSchedule(expr); err == nil {
			t.Errorf("ValidateSchedule(%q) accepted", expr)
		}
	}
}

func TestSchedule_InvalidExpr(t *testing.T) {
	r := NewRunner(&fakeSource{snap: &store.Snapshot{}}, &memUploader{}, "file", "")
	if err := Schedule(context.Background(), r, "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSchedule_StopsOnCancel(t *testing.T) {
	up := &memUploader{}
	r := NewRunner(&fakeSource{snap: &store.Snapshot{}}, up, "file", "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Schedule(ctx, r, "0 0 1 1 *") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
	if up.count() != 0 {
		t.Error("no backup should have run")
	}
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	if _, err := NewS3Uploader(context.Background(), S3Config{}); err == nil {
		t.Fatal("expected error")
	}
}
