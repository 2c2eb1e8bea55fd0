package agents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"pixelmolt.ai/internal/storage"
)

// Name-rule violations, distinct from backend faults so callers can map them
// to the right response class.
var (
	ErrInvalidName = errors.New("name must be 2-32 characters")
	ErrNameTaken   = errors.New("name already taken")
)

// TierLimits is the pixels-per-window allowance per tier.
var TierLimits = map[string]int{
	storage.TierAnonymous:  1,
	storage.TierRegistered: 10,
	storage.TierVerified:   30,
}

// Stats is the public registry summary returned without an API key.
type Stats struct {
	TotalAgents       int `json:"totalAgents"`
	RegisteredAgents  int `json:"registeredAgents"`
	VerifiedAgents    int `json:"verifiedAgents"`
	TotalPixelsPlaced int `json:"totalPixelsPlaced"`
}

// Registry resolves and creates agent identities on top of the storage
// backend. It enforces name rules, not authentication policy.
type Registry struct {
	provider storage.Provider
	logger   *log.Logger
	now      func() time.Time
}

func NewRegistry(provider storage.Provider, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{provider: provider, logger: logger, now: time.Now}
}

// Register creates a registered-tier agent with a fresh API key. Names are
// 2-32 characters and unique case-insensitively.
func (r *Registry) Register(ctx context.Context, name string) (*storage.AgentRecordV1, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 32 {
		return nil, ErrInvalidName
	}
	existing, err := r.provider.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if strings.EqualFold(a.Name, name) {
			return nil, ErrNameTaken
		}
	}

	now := r.now().UnixMilli()
	rec := &storage.AgentRecordV1{
		ID:         "agent_" + randomHex(8),
		Name:       name,
		APIKey:     "pm_" + randomHex(24),
		Tier:       storage.TierRegistered,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := r.provider.SaveAgent(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Printf("agents: registered %s (%s)", name, rec.ID)
	return rec, nil
}

// ByAPIKey resolves an agent from its API key; nil when unknown.
func (r *Registry) ByAPIKey(ctx context.Context, apiKey string) (*storage.AgentRecordV1, error) {
	if apiKey == "" {
		return nil, nil
	}
	return r.provider.GetAgent(ctx, apiKey)
}

// ByID resolves an agent by ID; nil when unknown.
func (r *Registry) ByID(ctx context.Context, id string) (*storage.AgentRecordV1, error) {
	return r.provider.GetAgentByID(ctx, id)
}

// GetOrCreateAnonymous resolves an anonymous agent by name, creating one on
// first placement. Anonymous agents carry no API key.
func (r *Registry) GetOrCreateAnonymous(ctx context.Context, name string) (*storage.AgentRecordV1, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "anonymous"
	}
	existing, err := r.provider.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.Tier == storage.TierAnonymous && strings.EqualFold(a.Name, name) {
			cp := a
			return &cp, nil
		}
	}
	now := r.now().UnixMilli()
	rec := &storage.AgentRecordV1{
		ID:         "agent_" + randomHex(8),
		Name:       name,
		Tier:       storage.TierAnonymous,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := r.provider.SaveAgent(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordPlacement bumps per-agent counters after a committed placement.
// Best effort; a lost bump never fails a placement.
func (r *Registry) RecordPlacement(ctx context.Context, agentID string) {
	rec, err := r.provider.GetAgentByID(ctx, agentID)
	if err != nil || rec == nil {
		return
	}
	rec.PixelsPlaced++
	rec.LastActive = r.now().UnixMilli()
	if err := r.provider.SaveAgent(ctx, rec); err != nil {
		r.logger.Printf("agents: record placement for %s: %v", agentID, err)
	}
}

// PublicStats summarizes the registry without exposing identities.
func (r *Registry) PublicStats(ctx context.Context) (Stats, error) {
	all, err := r.provider.ListAgents(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	s.TotalAgents = len(all)
	for _, a := range all {
		switch a.Tier {
		case storage.TierRegistered:
			s.RegisteredAgents++
		case storage.TierVerified:
			s.VerifiedAgents++
		}
		s.TotalPixelsPlaced += a.PixelsPlaced
	}
	return s, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
