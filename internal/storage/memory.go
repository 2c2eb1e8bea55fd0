package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pixelmolt.ai/internal/ratelimit"
)

// Memory is the in-process backend used by tests and by the "memory" storage
// mode. Snapshots are deep-copied on both get and save so callers see the same
// serialization boundary a real backend would impose.
type Memory struct {
	mu       sync.Mutex
	canvases map[string]*CanvasSnapshotV1
	agents   map[string]*AgentRecordV1 // keyed by agent ID
	points   *PointsSnapshotV1
	rates    *ratelimit.Table
}

func NewMemory() *Memory {
	return &Memory{
		canvases: make(map[string]*CanvasSnapshotV1),
		agents:   make(map[string]*AgentRecordV1),
		rates:    ratelimit.NewTable(),
	}
}

// RateTable exposes the underlying table so tests can pin its clock.
func (m *Memory) RateTable() *ratelimit.Table { return m.rates }

func (m *Memory) GetCanvas(_ context.Context, id string) (*CanvasSnapshotV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneCanvas(m.canvases[id]), nil
}

func (m *Memory) SaveCanvas(_ context.Context, snap *CanvasSnapshotV1) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canvases[snap.ID] = CloneCanvas(snap)
	return nil
}

func (m *Memory) ListCanvases(_ context.Context) ([]CanvasSnapshotV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CanvasSnapshotV1, 0, len(m.canvases))
	for _, c := range m.canvases {
		out = append(out, *CloneCanvas(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetAgent(_ context.Context, apiKey string) (*AgentRecordV1, error) {
	if apiKey == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.APIKey == apiKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetAgentByID(_ context.Context, id string) (*AgentRecordV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) SaveAgent(_ context.Context, rec *AgentRecordV1) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.agents[rec.ID] = &cp
	return nil
}

func (m *Memory) ListAgents(_ context.Context) ([]AgentRecordV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentRecordV1, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetPoints(_ context.Context) (*PointsSnapshotV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		return nil, nil
	}
	cp := clonePoints(m.points)
	return cp, nil
}

func (m *Memory) SavePoints(_ context.Context, snap *PointsSnapshotV1) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = clonePoints(snap)
	return nil
}

func (m *Memory) CheckRateLimit(_ context.Context, agentID string, cooldown time.Duration) (ratelimit.Result, error) {
	return m.rates.Check(agentID, cooldown), nil
}

func (m *Memory) TouchRateLimit(_ context.Context, agentID string, at time.Time) error {
	m.rates.Touch(agentID, at)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func clonePoints(s *PointsSnapshotV1) *PointsSnapshotV1 {
	out := *s
	out.Agents = make(map[string]PointsEntryV1, len(s.Agents))
	for id, e := range s.Agents {
		daily := make(map[string]int, len(e.DailyPoints))
		for d, p := range e.DailyPoints {
			daily[d] = p
		}
		e.DailyPoints = daily
		out.Agents[id] = e
	}
	return &out
}
