package points

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"pixelmolt.ai/internal/storage"
)

// Point values per placement outcome.
const (
	PlacePoints   = 1 // empty cell
	ConquerPoints = 5 // overwrote another agent's cell
	DefendPoints  = 2 // reclaimed an own cell
)

// Award is the result of a single scoring event.
type Award struct {
	Action string `json:"action"`
	Points int    `json:"points"`
	Total  int    `json:"total"`
}

// LeaderboardEntry is one row of the daily leaderboard.
type LeaderboardEntry struct {
	AgentID string `json:"agentId"`
	Points  int    `json:"points"`
}

// AggregateStats summarizes the whole ledger.
type AggregateStats struct {
	TotalAgents int `json:"totalAgents"`
	TotalPoints int `json:"totalPoints"`
	TodayPoints int `json:"todayPoints"`
}

// Ledger turns outcome classifications into a durable cumulative score.
// Awards are strictly additive and trusted as-is; the caller must invoke
// Award exactly once per committed placement. Persistence failures are
// logged and never surfaced; the in-memory ledger stays authoritative for
// the life of the process.
type Ledger struct {
	mu           sync.Mutex
	agents       map[string]*storage.PointsEntryV1
	totalAwarded int
	seq          uint64

	// persistMu serializes backend writes; persistedSeq keeps the stored
	// snapshot monotonic when awards race.
	persistMu    sync.Mutex
	persistedSeq uint64

	provider storage.Provider
	logger   *log.Logger
	now      func() time.Time
}

func NewLedger(provider storage.Provider, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		agents:   make(map[string]*storage.PointsEntryV1),
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Load restores the ledger from the storage backend, replacing in-memory
// state. Call once at startup.
func (l *Ledger) Load(ctx context.Context) error {
	if l.provider == nil {
		return nil
	}
	snap, err := l.provider.GetPoints(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agents = make(map[string]*storage.PointsEntryV1, len(snap.Agents))
	for id, e := range snap.Agents {
		cp := e
		if cp.DailyPoints == nil {
			cp.DailyPoints = make(map[string]int)
		}
		l.agents[id] = &cp
	}
	l.totalAwarded = snap.TotalAwarded
	return nil
}

// Award credits one scoring event. previousOwner is informational only; the
// ledger performs no verification of the supplied action.
func (l *Ledger) Award(agentID, action, previousOwner string) Award {
	l.mu.Lock()

	e, ok := l.agents[agentID]
	if !ok {
		e = &storage.PointsEntryV1{
			AgentID:     agentID,
			DailyPoints: make(map[string]int),
		}
		l.agents[agentID] = e
	}

	pts := 0
	switch action {
	case "place":
		pts = PlacePoints
		e.PlacedCount++
	case "conquer":
		pts = ConquerPoints
		e.ConqueredCount++
	case "defend":
		pts = DefendPoints
	default:
		l.mu.Unlock()
		l.logger.Printf("points: unknown action %q for %s, no award", action, agentID)
		return Award{Action: action}
	}

	now := l.now()
	today := dateKey(now)
	e.TotalPoints += pts
	e.DailyPoints[today] += pts
	e.LastActivity = now.UnixMilli()
	l.totalAwarded += pts
	total := e.TotalPoints
	l.seq++
	seq := l.seq
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(seq, snap)
	return Award{Action: action, Points: pts, Total: total}
}

// AgentPoints returns the entry for one agent, or nil when unknown.
func (l *Ledger) AgentPoints(agentID string) *storage.PointsEntryV1 {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.agents[agentID]
	if !ok {
		return nil
	}
	cp := cloneEntry(e)
	return &cp
}

// Leaderboard returns up to limit entries sorted by descending total points.
func (l *Ledger) Leaderboard(limit int) []storage.PointsEntryV1 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]storage.PointsEntryV1, 0, len(l.agents))
	for _, e := range l.agents {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].AgentID < out[j].AgentID
	})
	return clip(out, limit)
}

// TodayLeaderboard returns agents with points under the current UTC date key,
// sorted descending.
func (l *Ledger) TodayLeaderboard(limit int) []LeaderboardEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := dateKey(l.now())
	out := []LeaderboardEntry{}
	for _, e := range l.agents {
		if pts := e.DailyPoints[today]; pts > 0 {
			out = append(out, LeaderboardEntry{AgentID: e.AgentID, Points: pts})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].AgentID < out[j].AgentID
	})
	return clip(out, limit)
}

// Stats aggregates the whole ledger.
func (l *Ledger) Stats() AggregateStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := dateKey(l.now())
	s := AggregateStats{
		TotalAgents: len(l.agents),
		TotalPoints: l.totalAwarded,
	}
	for _, e := range l.agents {
		s.TodayPoints += e.DailyPoints[today]
	}
	return s
}

func (l *Ledger) snapshotLocked() *storage.PointsSnapshotV1 {
	snap := &storage.PointsSnapshotV1{
		Agents:       make(map[string]storage.PointsEntryV1, len(l.agents)),
		TotalAwarded: l.totalAwarded,
		LastUpdated:  l.now().UnixMilli(),
	}
	for id, e := range l.agents {
		snap.Agents[id] = cloneEntry(e)
	}
	return snap
}

func (l *Ledger) persist(seq uint64, snap *storage.PointsSnapshotV1) {
	if l.provider == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if seq <= l.persistedSeq {
		// A newer snapshot already reached the backend.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.provider.SavePoints(ctx, snap); err != nil {
		l.logger.Printf("points: persist: %v", err)
		return
	}
	l.persistedSeq = seq
}

func cloneEntry(e *storage.PointsEntryV1) storage.PointsEntryV1 {
	cp := *e
	cp.DailyPoints = make(map[string]int, len(e.DailyPoints))
	for d, p := range e.DailyPoints {
		cp.DailyPoints[d] = p
	}
	return cp
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func clip[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
