package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result answers a single rate-limit question: may this agent act now,
// and if not, how long must it wait.
type Result struct {
	Allowed bool
	Wait    time.Duration
}

// Table tracks the last committed action time per agent in memory.
// Check never advances the timestamp; only Touch does, and callers are
// expected to Touch only after the action actually committed.
type Table struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewTable() *Table {
	return &Table{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *Table) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

func (t *Table) Check(agentID string, cooldown time.Duration) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.last[agentID]
	if !ok {
		return Result{Allowed: true}
	}
	elapsed := t.now().Sub(at)
	if elapsed >= cooldown {
		return Result{Allowed: true}
	}
	return Result{Allowed: false, Wait: cooldown - elapsed}
}

func (t *Table) Touch(agentID string, at time.Time) {
	t.mu.Lock()
	t.last[agentID] = at
	t.mu.Unlock()
}

// Backend is the storage-side rate-limit primitive. Every backend must keep
// CheckRateLimit read-only; the commit point is TouchRateLimit, invoked by the
// caller after a confirmed placement.
type Backend interface {
	CheckRateLimit(ctx context.Context, agentID string, cooldown time.Duration) (Result, error)
	TouchRateLimit(ctx context.Context, agentID string, at time.Time) error
}

// Limiter is the canvas-facing rate limiter, delegating to whichever storage
// backend the process was configured with.
type Limiter struct {
	backend Backend
	now     func() time.Time
}

func New(backend Backend) *Limiter {
	return &Limiter{backend: backend, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func (l *Limiter) Check(ctx context.Context, agentID string, cooldown time.Duration) (Result, error) {
	return l.backend.CheckRateLimit(ctx, agentID, cooldown)
}

func (l *Limiter) Touch(ctx context.Context, agentID string) error {
	return l.backend.TouchRateLimit(ctx, agentID, l.now())
}
