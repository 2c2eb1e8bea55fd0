package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pixelmolt.ai/internal/storage"
)

func TestRegister(t *testing.T) {
	r := NewRegistry(storage.NewMemory(), nil)
	ctx := context.Background()

	rec, err := r.Register(ctx, "  painter  ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Name != "painter" {
		t.Fatalf("name = %q, want trimmed", rec.Name)
	}
	if !strings.HasPrefix(rec.ID, "agent_") || len(rec.ID) != len("agent_")+16 {
		t.Fatalf("id = %q, want agent_ + 16 hex chars", rec.ID)
	}
	if !strings.HasPrefix(rec.APIKey, "pm_") || len(rec.APIKey) != len("pm_")+48 {
		t.Fatalf("api key = %q, want pm_ + 48 hex chars", rec.APIKey)
	}
	if rec.Tier != storage.TierRegistered {
		t.Fatalf("tier = %s, want registered", rec.Tier)
	}

	// Names are unique case-insensitively.
	if _, err := r.Register(ctx, "PAINTER"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate name: err = %v, want ErrNameTaken", err)
	}
	if _, err := r.Register(ctx, "x"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("one-character name: err = %v, want ErrInvalidName", err)
	}
	if _, err := r.Register(ctx, strings.Repeat("a", 33)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("33-character name: err = %v, want ErrInvalidName", err)
	}

	got, err := r.ByAPIKey(ctx, rec.APIKey)
	if err != nil || got == nil || got.ID != rec.ID {
		t.Fatalf("resolve by key = %+v, %v", got, err)
	}
	if got, _ := r.ByAPIKey(ctx, ""); got != nil {
		t.Fatalf("empty key resolved to %+v", got)
	}
}

func TestGetOrCreateAnonymous(t *testing.T) {
	r := NewRegistry(storage.NewMemory(), nil)
	ctx := context.Background()

	a, err := r.GetOrCreateAnonymous(ctx, "drive-by")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Tier != storage.TierAnonymous || a.APIKey != "" {
		t.Fatalf("anonymous = %+v, want anonymous tier without key", a)
	}

	// Same name resolves to the same identity.
	b, err := r.GetOrCreateAnonymous(ctx, "Drive-By")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.ID != a.ID {
		t.Fatalf("second lookup made a new agent: %s vs %s", b.ID, a.ID)
	}

	c, _ := r.GetOrCreateAnonymous(ctx, "")
	if c.Name != "anonymous" {
		t.Fatalf("empty name = %q, want anonymous", c.Name)
	}
}

func TestRecordPlacementAndStats(t *testing.T) {
	mem := storage.NewMemory()
	r := NewRegistry(mem, nil)
	ctx := context.Background()

	rec, err := r.Register(ctx, "painter")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r.RecordPlacement(ctx, rec.ID)
	r.RecordPlacement(ctx, rec.ID)
	r.RecordPlacement(ctx, "agent_unknown") // must be a no-op

	got, _ := r.ByID(ctx, rec.ID)
	if got.PixelsPlaced != 2 {
		t.Fatalf("pixels placed = %d, want 2", got.PixelsPlaced)
	}

	if _, err := r.GetOrCreateAnonymous(ctx, "lurker"); err != nil {
		t.Fatalf("anonymous: %v", err)
	}
	s, err := r.PublicStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalAgents != 2 || s.RegisteredAgents != 1 || s.TotalPixelsPlaced != 2 {
		t.Fatalf("stats = %+v", s)
	}
}
