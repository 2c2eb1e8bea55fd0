package filestore

import (
	"context"
	"testing"

	"pixelmolt.ai/internal/storage"
)

func TestCanvasRoundtrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	snap := &storage.CanvasSnapshotV1{
		ID:     "default",
		Size:   64,
		Status: storage.StatusActive,
		Pixels: []storage.PixelV1{
			{X: 1, Y: 2, Color: "#FF0000", AgentID: "A1", Timestamp: 1700000000000},
		},
		Contributors: []string{"A1"},
		LastUpdated:  1700000000000,
	}
	if err := s.SaveCanvas(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetCanvas(ctx, "default")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Size != 64 || len(got.Pixels) != 1 || got.Pixels[0].Color != "#FF0000" {
		t.Fatalf("roundtrip = %+v", got)
	}

	missing, err := s.GetCanvas(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing canvas = %+v, %v; want nil, nil", missing, err)
	}

	list, err := s.ListCanvases(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "default" {
		t.Fatalf("list = %+v", list)
	}

	// Saving again must not duplicate the index entry.
	if err := s.SaveCanvas(ctx, snap); err != nil {
		t.Fatalf("save again: %v", err)
	}
	list, _ = s.ListCanvases(ctx)
	if len(list) != 1 {
		t.Fatalf("index grew on re-save: %d entries", len(list))
	}
}

func TestKeySanitization(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	// Path separators in the id must not escape the data directory.
	id := "../evil/../../etc"
	snap := &storage.CanvasSnapshotV1{ID: id, Size: 8, Status: storage.StatusActive}
	if err := s.SaveCanvas(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetCanvas(ctx, id)
	if err != nil || got == nil || got.ID != id {
		t.Fatalf("sanitized roundtrip = %+v, %v", got, err)
	}
}

func TestAgentsAndPoints(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	rec := &storage.AgentRecordV1{
		ID:     "agent_cafe0001",
		Name:   "painter",
		APIKey: "pm_secret",
		Tier:   storage.TierRegistered,
	}
	if err := s.SaveAgent(ctx, rec); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	byKey, err := s.GetAgent(ctx, "pm_secret")
	if err != nil || byKey == nil || byKey.ID != rec.ID {
		t.Fatalf("get by key = %+v, %v", byKey, err)
	}
	if a, _ := s.GetAgent(ctx, ""); a != nil {
		t.Fatalf("empty key resolved to %+v", a)
	}
	byID, err := s.GetAgentByID(ctx, rec.ID)
	if err != nil || byID == nil || byID.Name != "painter" {
		t.Fatalf("get by id = %+v, %v", byID, err)
	}

	pts := &storage.PointsSnapshotV1{
		Agents: map[string]storage.PointsEntryV1{
			rec.ID: {AgentID: rec.ID, TotalPoints: 7, DailyPoints: map[string]int{"2026-03-01": 7}},
		},
		TotalAwarded: 7,
	}
	if err := s.SavePoints(ctx, pts); err != nil {
		t.Fatalf("save points: %v", err)
	}
	got, err := s.GetPoints(ctx)
	if err != nil || got == nil {
		t.Fatalf("get points: %+v, %v", got, err)
	}
	if got.TotalAwarded != 7 || got.Agents[rec.ID].TotalPoints != 7 {
		t.Fatalf("points roundtrip = %+v", got)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
