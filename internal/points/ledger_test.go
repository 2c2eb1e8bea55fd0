package points

import (
	"context"
	"testing"
	"time"

	"pixelmolt.ai/internal/storage"
)

func TestAward_Values(t *testing.T) {
	l := NewLedger(nil, nil)

	a := l.Award("A1", "place", "")
	if a.Points != 1 || a.Total != 1 {
		t.Fatalf("place award = %+v, want 1/1", a)
	}
	a = l.Award("A1", "conquer", "A2")
	if a.Points != 5 || a.Total != 6 {
		t.Fatalf("conquer award = %+v, want 5/6", a)
	}
	a = l.Award("A1", "defend", "A1")
	if a.Points != 2 || a.Total != 8 {
		t.Fatalf("defend award = %+v, want 2/8", a)
	}

	e := l.AgentPoints("A1")
	if e == nil {
		t.Fatalf("no entry for A1")
	}
	if e.TotalPoints != 8 || e.PlacedCount != 1 || e.ConqueredCount != 1 {
		t.Fatalf("entry = %+v, want total 8, placed 1, conquered 1", e)
	}

	a = l.Award("A1", "bogus", "")
	if a.Points != 0 {
		t.Fatalf("unknown action awarded %d points", a.Points)
	}
	if l.AgentPoints("A1").TotalPoints != 8 {
		t.Fatalf("unknown action changed the total")
	}
}

func TestLeaderboards(t *testing.T) {
	l := NewLedger(nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Award("A1", "place", "")
	l.Award("A2", "conquer", "A1")
	l.Award("A3", "place", "")
	l.Award("A3", "place", "")

	lb := l.Leaderboard(10)
	if len(lb) != 3 {
		t.Fatalf("leaderboard size = %d, want 3", len(lb))
	}
	if lb[0].AgentID != "A2" || lb[0].TotalPoints != 5 {
		t.Fatalf("leader = %+v, want A2 with 5", lb[0])
	}
	if lb[1].AgentID != "A3" || lb[2].AgentID != "A1" {
		t.Fatalf("order = %s, %s, want A3 then A1", lb[1].AgentID, lb[2].AgentID)
	}

	if short := l.Leaderboard(2); len(short) != 2 {
		t.Fatalf("limited leaderboard size = %d, want 2", len(short))
	}

	// Points from a previous day drop off the daily board.
	now = now.Add(24 * time.Hour)
	l.Award("A1", "place", "")
	today := l.TodayLeaderboard(10)
	if len(today) != 1 || today[0].AgentID != "A1" || today[0].Points != 1 {
		t.Fatalf("today = %+v, want only A1 with 1", today)
	}

	s := l.Stats()
	if s.TotalAgents != 3 || s.TotalPoints != 9 || s.TodayPoints != 1 {
		t.Fatalf("stats = %+v, want 3 agents, 9 total, 1 today", s)
	}
}

func TestPersist_SkipsStaleSnapshots(t *testing.T) {
	mem := storage.NewMemory()
	l := NewLedger(mem, nil)

	older := &storage.PointsSnapshotV1{
		Agents:       map[string]storage.PointsEntryV1{},
		TotalAwarded: 1,
	}
	newer := &storage.PointsSnapshotV1{
		Agents:       map[string]storage.PointsEntryV1{},
		TotalAwarded: 6,
	}

	// The newer snapshot lands first; the stale one must not clobber it.
	l.persist(2, newer)
	l.persist(1, older)

	stored, err := mem.GetPoints(context.Background())
	if err != nil {
		t.Fatalf("get points: %v", err)
	}
	if stored == nil || stored.TotalAwarded != 6 {
		t.Fatalf("stored snapshot = %+v, want TotalAwarded 6", stored)
	}
}

func TestPersistAndLoad(t *testing.T) {
	mem := storage.NewMemory()
	l := NewLedger(mem, nil)

	l.Award("A1", "conquer", "A2")
	l.Award("A2", "place", "")

	restored := NewLedger(mem, nil)
	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	e := restored.AgentPoints("A1")
	if e == nil || e.TotalPoints != 5 {
		t.Fatalf("restored A1 = %+v, want 5 points", e)
	}
	if s := restored.Stats(); s.TotalPoints != 6 {
		t.Fatalf("restored total = %d, want 6", s.TotalPoints)
	}
}
