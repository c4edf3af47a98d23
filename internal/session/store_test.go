package session

import (
	"context"
	"os"
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/types"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "session_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	dbPath := f.Name()
	f.Close()

	store, err := Open(dbPath)
	if err != nil {
		os.Remove(dbPath)
		t.Fatalf("failed to open store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}
	return store, cleanup
}

func TestRouteUpsertAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpdateRoute(ctx, "main", types.SurfaceTelegram, "12345"); err != nil {
		t.Fatalf("UpdateRoute failed: %v", err)
	}

	r, err := store.GetRoute(ctx, "main")
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if r == nil {
		t.Fatal("expected route to be found")
	}
	if r.Surface != types.SurfaceTelegram || r.To != "12345" {
		t.Errorf("route mismatch: got %s/%s", r.Surface, r.To)
	}

	// Upsert replaces
	if err := store.UpdateRoute(ctx, "main", types.SurfaceWhatsApp, "27820000000@s.whatsapp.net"); err != nil {
		t.Fatalf("UpdateRoute (second) failed: %v", err)
	}
	r, err = store.GetRoute(ctx, "main")
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if r.Surface != types.SurfaceWhatsApp {
		t.Errorf("surface = %s, want whatsapp after upsert", r.Surface)
	}
}

func TestGetRouteMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	r, err := store.GetRoute(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil route, got %+v", r)
	}
}

func TestEmptyKeyDefaults(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpdateRoute(ctx, "", types.SurfaceDiscord, "chan1"); err != nil {
		t.Fatalf("UpdateRoute failed: %v", err)
	}
	r, err := store.GetRoute(ctx, DefaultKey)
	if err != nil || r == nil {
		t.Fatalf("expected default-key route, err=%v", err)
	}
}

func TestListRoutes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.UpdateRoute(ctx, "a", types.SurfaceTelegram, "1")
	store.UpdateRoute(ctx, "b", types.SurfaceDiscord, "2")

	routes, err := store.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(routes) != 2 {
		t.Errorf("got %d routes, want 2", len(routes))
	}
}

func TestKeyFor(t *testing.T) {
	dm := &types.MessageContext{ChatType: types.ChatDirect, From: "telegram:42", To: "telegram:42"}
	if got := KeyFor(dm); got != "user:telegram:42" {
		t.Errorf("KeyFor(dm) = %q", got)
	}
	group := &types.MessageContext{ChatType: types.ChatGroup, From: "discord:7", To: "discord:chan9"}
	if got := KeyFor(group); got != "group:discord:chan9" {
		t.Errorf("KeyFor(group) = %q", got)
	}
	explicit := &types.MessageContext{SessionKey: "main"}
	if got := KeyFor(explicit); got != "main" {
		t.Errorf("KeyFor(explicit) = %q", got)
	}
}
