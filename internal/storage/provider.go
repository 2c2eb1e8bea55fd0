package storage

import (
	"context"
	"time"

	"pixelmolt.ai/internal/ratelimit"
)

// Canvas lifecycle states. Placements are accepted only while active.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Agent tiers, in ascending trust order.
const (
	TierAnonymous  = "anonymous"
	TierRegistered = "registered"
	TierVerified   = "verified"
)

// PixelV1 is one committed cell inside a persisted canvas snapshot.
type PixelV1 struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Color     string `json:"color"`
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// CanvasSnapshotV1 is the whole-object persisted form of a canvas. Backends
// read and write it as a unit; there are no per-cell conditional writes, so
// concurrent cross-process writers are last-write-wins.
type CanvasSnapshotV1 struct {
	ID           string    `json:"id"`
	Size         int       `json:"size"`
	Status       string    `json:"status"`
	Pixels       []PixelV1 `json:"pixels"`
	Contributors []string  `json:"contributors"`
	LastUpdated  int64     `json:"lastUpdated"` // unix ms
}

// AgentRecordV1 is one registered or anonymous agent.
type AgentRecordV1 struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	APIKey       string `json:"apiKey,omitempty"`
	Tier         string `json:"tier"`
	Karma        int    `json:"karma"`
	PixelsPlaced int    `json:"pixelsPlaced"`
	CreatedAt    int64  `json:"createdAt"`
	LastActive   int64  `json:"lastActive"`
}

// PointsEntryV1 is one agent's cumulative score record.
type PointsEntryV1 struct {
	AgentID        string         `json:"agentId"`
	TotalPoints    int            `json:"totalPoints"`
	PlacedCount    int            `json:"pixelsPlaced"`
	ConqueredCount int            `json:"pixelsConquered"`
	DailyPoints    map[string]int `json:"dailyPoints"` // UTC date -> points
	LastActivity   int64          `json:"lastActivity"`
}

// PointsSnapshotV1 is the whole-object persisted form of the points ledger.
type PointsSnapshotV1 struct {
	Agents       map[string]PointsEntryV1 `json:"agents"`
	TotalAwarded int                      `json:"totalPointsAwarded"`
	LastUpdated  int64                    `json:"lastUpdated"`
}

// Provider is the pluggable persistence abstraction. Implementations return
// (nil, nil) for lookups that find nothing. CheckRateLimit must be read-only;
// the caller commits the timestamp via TouchRateLimit only after a confirmed
// placement.
type Provider interface {
	GetCanvas(ctx context.Context, id string) (*CanvasSnapshotV1, error)
	SaveCanvas(ctx context.Context, snap *CanvasSnapshotV1) error
	ListCanvases(ctx context.Context) ([]CanvasSnapshotV1, error)

	GetAgent(ctx context.Context, apiKey string) (*AgentRecordV1, error)
	GetAgentByID(ctx context.Context, id string) (*AgentRecordV1, error)
	SaveAgent(ctx context.Context, rec *AgentRecordV1) error
	ListAgents(ctx context.Context) ([]AgentRecordV1, error)

	GetPoints(ctx context.Context) (*PointsSnapshotV1, error)
	SavePoints(ctx context.Context, snap *PointsSnapshotV1) error

	CheckRateLimit(ctx context.Context, agentID string, cooldown time.Duration) (ratelimit.Result, error)
	TouchRateLimit(ctx context.Context, agentID string, at time.Time) error

	Ping(ctx context.Context) error
}

// CloneCanvas deep-copies a snapshot so callers can mutate freely.
func CloneCanvas(s *CanvasSnapshotV1) *CanvasSnapshotV1 {
	if s == nil {
		return nil
	}
	out := *s
	out.Pixels = append([]PixelV1(nil), s.Pixels...)
	out.Contributors = append([]string(nil), s.Contributors...)
	return &out
}
