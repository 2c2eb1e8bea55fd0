package kvrest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pixelmolt.ai/internal/ratelimit"
	"pixelmolt.ai/internal/storage"
)

const (
	canvasPrefix   = "pixelmolt/canvas/"
	canvasIndexKey = "pixelmolt/canvas_index"
	agentsKey      = "pixelmolt/agents"
	pointsKey      = "pixelmolt/points"
	ratePrefix     = "pixelmolt/ratelimits/"
)

// Store is the remote key-value backend. Every read-modify-write cycle runs
// against the remote object without a lock or compare-and-swap, so concurrent
// writers across instances are last-write-wins; callers must not assume
// anything stronger.
type Store struct {
	client *Client
	now    func() time.Time
}

func Open(endpoint, token string) (*Store, error) {
	c, err := NewClient(endpoint, token)
	if err != nil {
		return nil, err
	}
	return &Store{client: c, now: time.Now}, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.client.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("kvrest: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvrest: encode %s: %w", key, err)
	}
	return s.client.Set(ctx, key, raw)
}

func (s *Store) GetCanvas(ctx context.Context, id string) (*storage.CanvasSnapshotV1, error) {
	var snap storage.CanvasSnapshotV1
	ok, err := s.getJSON(ctx, canvasPrefix+id, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveCanvas(ctx context.Context, snap *storage.CanvasSnapshotV1) error {
	if err := s.setJSON(ctx, canvasPrefix+snap.ID, snap); err != nil {
		return err
	}
	var ids []string
	if _, err := s.getJSON(ctx, canvasIndexKey, &ids); err != nil {
		return err
	}
	for _, have := range ids {
		if have == snap.ID {
			return nil
		}
	}
	return s.setJSON(ctx, canvasIndexKey, append(ids, snap.ID))
}

func (s *Store) ListCanvases(ctx context.Context) ([]storage.CanvasSnapshotV1, error) {
	var ids []string
	if _, err := s.getJSON(ctx, canvasIndexKey, &ids); err != nil {
		return nil, err
	}
	out := make([]storage.CanvasSnapshotV1, 0, len(ids))
	for _, id := range ids {
		snap, err := s.GetCanvas(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			out = append(out, *snap)
		}
	}
	return out, nil
}

func (s *Store) GetAgent(ctx context.Context, apiKey string) (*storage.AgentRecordV1, error) {
	if apiKey == "" {
		return nil, nil
	}
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.APIKey == apiKey {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetAgentByID(ctx context.Context, id string) (*storage.AgentRecordV1, error) {
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := agents[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) SaveAgent(ctx context.Context, rec *storage.AgentRecordV1) error {
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return err
	}
	agents[rec.ID] = *rec
	return s.setJSON(ctx, agentsKey, agents)
}

func (s *Store) ListAgents(ctx context.Context) ([]storage.AgentRecordV1, error) {
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]storage.AgentRecordV1, 0, len(agents))
	for _, a := range agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) loadAgents(ctx context.Context) (map[string]storage.AgentRecordV1, error) {
	agents := make(map[string]storage.AgentRecordV1)
	if _, err := s.getJSON(ctx, agentsKey, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *Store) GetPoints(ctx context.Context) (*storage.PointsSnapshotV1, error) {
	var snap storage.PointsSnapshotV1
	ok, err := s.getJSON(ctx, pointsKey, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SavePoints(ctx context.Context, snap *storage.PointsSnapshotV1) error {
	return s.setJSON(ctx, pointsKey, snap)
}

// CheckRateLimit never writes. The commit point is TouchRateLimit, invoked by
// the caller only after a confirmed placement.
func (s *Store) CheckRateLimit(ctx context.Context, agentID string, cooldown time.Duration) (ratelimit.Result, error) {
	raw, ok, err := s.client.Get(ctx, ratePrefix+agentID)
	if err != nil {
		return ratelimit.Result{}, err
	}
	if !ok {
		return ratelimit.Result{Allowed: true}, nil
	}
	lastMs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("kvrest: bad rate-limit value for %s: %w", agentID, err)
	}
	elapsed := s.now().Sub(time.UnixMilli(lastMs))
	if elapsed >= cooldown {
		return ratelimit.Result{Allowed: true}, nil
	}
	return ratelimit.Result{Allowed: false, Wait: cooldown - elapsed}, nil
}

func (s *Store) TouchRateLimit(ctx context.Context, agentID string, at time.Time) error {
	return s.client.Set(ctx, ratePrefix+agentID, []byte(strconv.FormatInt(at.UnixMilli(), 10)))
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
