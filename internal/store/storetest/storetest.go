// Package storetest holds the conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Backend

// Run exercises the store.Backend contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("EmptyOnInit", func(t *testing.T) { testEmptyOnInit(t, newBackend(t)) })
	t.Run("ReplaceBotsOrderedByName", func(t *testing.T) { testReplaceBots(t, newBackend(t)) })
	t.Run("CredentialOnlyKeepsBots", func(t *testing.T) { testCredentialOnly(t, newBackend(t)) })
	t.Run("EmptyBotListClears", func(t *testing.T) { testClear(t, newBackend(t)) })
	t.Run("DuplicateSiteIDRollsBack", func(t *testing.T) { testDuplicateRollsBack(t, newBackend(t)) })
	t.Run("ConcurrentWritersNeverInterleave", func(t *testing.T) { testConcurrent(t, newBackend(t)) })
}

func ptr[T any](v T) *T { return &v }

// Bots builds n sealed rows whose names and site ids share prefix.
func Bots(prefix string, n int) []store.SealedBot {
	out := make([]store.SealedBot, n)
	for i := range out {
		out[i] = store.SealedBot{
			ID:         fmt.Sprintf("%s-id-%d", prefix, i),
			Name:       fmt.Sprintf("%s-%02d", prefix, n-i), // reverse order on input
			SiteID:     fmt.Sprintf("%s-site-%d", prefix, i),
			WorkflowID: "wf_" + prefix,
			Credential: fmt.Sprintf("v1:sealed-%s-%d", prefix, i),
			Color:      "#3b82f6",
			Title:      "Chat with us",
			Position:   "bottom-right",
		}
	}
	return out
}

func mustLoad(t *testing.T, b store.Backend) *store.Snapshot {
	t.Helper()
	snap, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return snap
}

func testEmptyOnInit(t *testing.T, b store.Backend) {
	snap := mustLoad(t, b)
	if snap.Credential != "" || len(snap.Bots) != 0 {
		t.Fatalf("fresh backend not empty: %+v", snap)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testReplaceBots(t *testing.T, b store.Backend) {
	ctx := context.Background()
	bots := Bots("a", 3)
	if err := b.Replace(ctx, store.SealedUpdate{Credential: ptr("v1:global"), Bots: &bots}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	snap := mustLoad(t, b)
	if snap.Credential != "v1:global" {
		t.Errorf("credential = %q", snap.Credential)
	}
	if len(snap.Bots) != 3 {
		t.Fatalf("got %d bots, want 3", len(snap.Bots))
	}
	for i := 1; i < len(snap.Bots); i++ {
		if snap.Bots[i-1].Name > snap.Bots[i].Name {
			t.Errorf("bots not ordered by name: %q before %q", snap.Bots[i-1].Name, snap.Bots[i].Name)
		}
	}
	got := map[string]store.SealedBot{}
	for _, sb := range snap.Bots {
		got[sb.SiteID] = sb
	}
	for _, want := range bots {
		if got[want.SiteID] != want {
			t.Errorf("bot %s = %+v, want %+v", want.SiteID, got[want.SiteID], want)
		}
	}

	second := Bots("b", 2)
	if err := b.Replace(ctx, store.SealedUpdate{Bots: &second}); err != nil {
		t.Fatalf("Replace second: %v", err)
	}
	snap = mustLoad(t, b)
	if len(snap.Bots) != 2 || !strings.HasPrefix(snap.Bots[0].Name, "b-") {
		t.Errorf("second replace not applied: %+v", snap.Bots)
	}
}

func testCredentialOnly(t *testing.T, b store.Backend) {
	ctx := context.Background()
	bots := Bots("a", 2)
	if err := b.Replace(ctx, store.SealedUpdate{Bots: &bots}); err != nil {
		t.Fatal(err)
	}
	if err := b.Replace(ctx, store.SealedUpdate{Credential: ptr("v1:new")}); err != nil {
		t.Fatal(err)
	}
	snap := mustLoad(t, b)
	if snap.Credential != "v1:new" || len(snap.Bots) != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if err := b.Replace(ctx, store.SealedUpdate{Credential: ptr("")}); err != nil {
		t.Fatal(err)
	}
	if snap := mustLoad(t, b); snap.Credential != "" {
		t.Errorf("credential not cleared: %q", snap.Credential)
	}
}

func testClear(t *testing.T, b store.Backend) {
	ctx := context.Background()
	bots := Bots("a", 2)
	if err := b.Replace(ctx, store.SealedUpdate{Bots: &bots}); err != nil {
		t.Fatal(err)
	}
	empty := []store.SealedBot{}
	if err := b.Replace(ctx, store.SealedUpdate{Bots: &empty}); err != nil {
		t.Fatal(err)
	}
	if snap := mustLoad(t, b); len(snap.Bots) != 0 {
		t.Errorf("bots not cleared: %+v", snap.Bots)
	}
}

func testDuplicateRollsBack(t *testing.T, b store.Backend) {
	ctx := context.Background()
	bots := Bots("a", 2)
	if err := b.Replace(ctx, store.SealedUpdate{Credential: ptr("v1:before"), Bots: &bots}); err != nil {
		t.Fatal(err)
	}

	dup := Bots("c", 3)
	dup[2].SiteID = dup[0].SiteID
	err := b.Replace(ctx, store.SealedUpdate{Credential: ptr("v1:after"), Bots: &dup})
	if !errors.Is(err, store.ErrDuplicateSiteID) {
		t.Fatalf("Replace with duplicate site id: err = %v, want ErrDuplicateSiteID", err)
	}

	snap := mustLoad(t, b)
	if snap.Credential != "v1:before" {
		t.Errorf("credential changed by failed write: %q", snap.Credential)
	}
	if len(snap.Bots) != 2 {
		t.Fatalf("bot set changed by failed write: %+v", snap.Bots)
	}
	for _, sb := range snap.Bots {
		if !strings.HasPrefix(sb.Name, "a-") {
			t.Errorf("unexpected bot after failed write: %+v", sb)
		}
	}
}

func testConcurrent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	sets := map[string][]store.SealedBot{
		"x": Bots("x", 3),
		"y": Bots("y", 5),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		prefix := "x"
		if i%2 == 1 {
			prefix = "y"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			bots := sets[prefix]
			if err := b.Replace(ctx, store.SealedUpdate{Bots: &bots}); err != nil {
				errs <- err
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := b.Load(ctx)
			if err != nil {
				errs <- err
				return
			}
			if err := homogeneous(snap.Bots); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	final := mustLoad(t, b)
	if err := homogeneous(final.Bots); err != nil || len(final.Bots) == 0 {
		t.Errorf("final state not a complete set: %v %+v", err, final.Bots)
	}
}

// homogeneous verifies that bots are exactly one complete generated set (or empty).
func homogeneous(bots []store.SealedBot) error {
	if len(bots) == 0 {
		return nil
	}
	prefix := strings.SplitN(bots[0].Name, "-", 2)[0]
	want := map[string]int{"x": 3, "y": 5}[prefix]
	if len(bots) != want {
		return fmt.Errorf("partial set observed: %d bots with prefix %q", len(bots), prefix)
	}
	for _, sb := range bots {
		if !strings.HasPrefix(sb.Name, prefix+"-") {
			return fmt.Errorf("interleaved sets observed: %q with %q", sb.Name, prefix)
		}
	}
	return nil
}
