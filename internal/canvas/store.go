package canvas

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixelmolt.ai/internal/protocol"
	"pixelmolt.ai/internal/ratelimit"
	"pixelmolt.ai/internal/storage"
)

const DefaultCanvasID = "default"

// ErrSizeOutOfRange marks a caller-supplied canvas size outside the accepted
// bounds, as opposed to a backend fault.
var ErrSizeOutOfRange = errors.New("canvas: size out of range")

// Outcome classifies a committed placement against the prior occupant.
type Outcome string

const (
	OutcomePlace   Outcome = "place"   // target cell was empty
	OutcomeConquer Outcome = "conquer" // prior cell owned by a different agent
	OutcomeDefend  Outcome = "defend"  // prior cell owned by the same agent
)

// Stats reports fill progress. Percentage carries two decimals.
type Stats struct {
	Filled     int     `json:"filled"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Result is the structured outcome of PlacePixel. Business-rule rejections
// set Code and Err without side effects; only backend faults surface as a Go
// error from the call itself.
type Result struct {
	OK            bool
	Pixel         *storage.PixelV1
	Stats         Stats
	Outcome       Outcome
	PreviousOwner string
	Code          string
	Err           string
	Wait          time.Duration // set alongside E_RATE_LIMIT
}

// Event describes a committed placement, delivered to post-commit hooks.
type Event struct {
	CanvasID      string
	Pixel         storage.PixelV1
	Outcome       Outcome
	PreviousOwner string
}

// Hook receives committed placement events. Hooks run after the authoritative
// write succeeds; a panic or failure inside one is caught and logged and never
// reaches the placement caller.
type Hook func(Event)

type Config struct {
	DefaultSize int
	Cooldown    time.Duration
	CacheTTL    time.Duration
	Logger      *log.Logger
	Now         func() time.Time
}

// Store is the authoritative canvas orchestrator: validation, rate limiting,
// conflict classification, whole-snapshot persistence and post-commit hooks.
//
// The store mutex covers the full read-modify-write window, so in-process
// placements never lose updates to each other. Writers in other processes
// sharing a remote backend remain last-write-wins (see storage.Provider).
type Store struct {
	provider storage.Provider
	limiter  *ratelimit.Limiter
	cfg      Config

	mu    sync.Mutex
	cache map[string]cacheEntry
	hooks []Hook
}

type cacheEntry struct {
	snap    *storage.CanvasSnapshotV1
	fetched time.Time
}

func NewStore(provider storage.Provider, limiter *ratelimit.Limiter, cfg Config) *Store {
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = 64
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		cache:    make(map[string]cacheEntry),
	}
}

// OnCommit registers a post-commit hook. Not safe to call concurrently with
// placements; wire hooks at startup.
func (s *Store) OnCommit(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Invalidate drops a cached snapshot so the next read hits the backend.
func (s *Store) Invalidate(canvasID string) {
	s.mu.Lock()
	delete(s.cache, canvasID)
	s.mu.Unlock()
}

// EnsureDefault creates the default canvas when absent.
func (s *Store) EnsureDefault(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, DefaultCanvasID)
	if err != nil {
		return err
	}
	if snap != nil {
		return nil
	}
	def := &storage.CanvasSnapshotV1{
		ID:          DefaultCanvasID,
		Size:        s.cfg.DefaultSize,
		Status:      storage.StatusActive,
		LastUpdated: s.cfg.Now().UnixMilli(),
	}
	return s.saveLocked(ctx, def)
}

// Create registers a new active canvas. A size of 0 takes the configured
// default.
func (s *Store) Create(ctx context.Context, size int) (*storage.CanvasSnapshotV1, error) {
	if size == 0 {
		size = s.cfg.DefaultSize
	}
	if size < 8 || size > 1024 {
		return nil, fmt.Errorf("%w: %d", ErrSizeOutOfRange, size)
	}
	snap := &storage.CanvasSnapshotV1{
		ID:          fmt.Sprintf("canvas_%d_%s", s.cfg.Now().UnixMilli(), uuid.NewString()[:8]),
		Size:        size,
		Status:      storage.StatusActive,
		LastUpdated: s.cfg.Now().UnixMilli(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(ctx, snap); err != nil {
		return nil, err
	}
	return storage.CloneCanvas(snap), nil
}

// Canvas returns a copy of the canvas snapshot, through the read cache.
func (s *Store) Canvas(ctx context.Context, id string) (*storage.CanvasSnapshotV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return storage.CloneCanvas(snap), nil
}

// List returns all active canvases, bypassing the cache.
func (s *Store) List(ctx context.Context) ([]storage.CanvasSnapshotV1, error) {
	all, err := s.provider.ListCanvases(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == storage.StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// PlacePixel writes one cell for agentID. The returned error is reserved for
// backend faults; every expected rejection comes back inside Result.
func (s *Store) PlacePixel(ctx context.Context, canvasID string, x, y int, color, agentID string) (Result, error) {
	if agentID == "" {
		return reject(protocol.ErrValidation, "agentId must not be empty"), nil
	}

	s.mu.Lock()
	res, ev, err := s.placePixelLocked(ctx, canvasID, x, y, color, agentID)
	s.mu.Unlock()
	if err != nil || ev == nil {
		return res, err
	}

	// Hooks run after the mutex is released; a slow hook must not stall
	// concurrent placements and reads.
	for _, h := range s.hooks {
		s.runHook(h, *ev)
	}
	return res, nil
}

func (s *Store) placePixelLocked(ctx context.Context, canvasID string, x, y int, color, agentID string) (Result, *Event, error) {
	snap, err := s.loadLocked(ctx, canvasID)
	if err != nil {
		return Result{}, nil, err
	}
	if snap == nil {
		return reject(protocol.ErrNotFound, fmt.Sprintf("canvas not found: %s", canvasID)), nil, nil
	}
	if snap.Status != storage.StatusActive {
		return reject(protocol.ErrInactive, fmt.Sprintf("canvas is not active: %s", snap.Status)), nil, nil
	}
	if x < 0 || x >= snap.Size || y < 0 || y >= snap.Size {
		return reject(protocol.ErrValidation,
			fmt.Sprintf("coordinates out of bounds: (%d, %d) for canvas size %d", x, y, snap.Size)), nil, nil
	}
	if !IsValidHexColor(color) {
		return reject(protocol.ErrValidation, fmt.Sprintf("invalid hex color: %s", color)), nil, nil
	}

	check, err := s.limiter.Check(ctx, agentID, s.cfg.Cooldown)
	if err != nil {
		return Result{}, nil, err
	}
	if !check.Allowed {
		r := reject(protocol.ErrRateLimit,
			fmt.Sprintf("rate limited, wait %dms", check.Wait.Milliseconds()))
		r.Wait = check.Wait
		return r, nil, nil
	}

	now := s.cfg.Now()
	pixel := storage.PixelV1{
		X:         x,
		Y:         y,
		Color:     NormalizeHexColor(color),
		AgentID:   agentID,
		Timestamp: now.UnixMilli(),
	}

	outcome := OutcomePlace
	previousOwner := ""
	replaced := false
	for i := range snap.Pixels {
		if snap.Pixels[i].X == x && snap.Pixels[i].Y == y {
			previousOwner = snap.Pixels[i].AgentID
			if previousOwner == agentID {
				outcome = OutcomeDefend
			} else {
				outcome = OutcomeConquer
			}
			snap.Pixels[i] = pixel
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Pixels = append(snap.Pixels, pixel)
	}
	if !contains(snap.Contributors, agentID) {
		snap.Contributors = append(snap.Contributors, agentID)
	}
	snap.LastUpdated = now.UnixMilli()

	// Persist before anything observable: a success result implies the
	// snapshot is durable.
	if err := s.saveLocked(ctx, snap); err != nil {
		delete(s.cache, canvasID)
		return Result{}, nil, err
	}

	// The rate-limit timestamp advances only after a confirmed write.
	if err := s.limiter.Touch(ctx, agentID); err != nil {
		s.cfg.Logger.Printf("canvas: rate-limit touch for %s: %v", agentID, err)
	}

	ev := Event{CanvasID: canvasID, Pixel: pixel, Outcome: outcome, PreviousOwner: previousOwner}
	return Result{
		OK:            true,
		Pixel:         &pixel,
		Stats:         statsOf(snap),
		Outcome:       outcome,
		PreviousOwner: previousOwner,
	}, &ev, nil
}

// Stats returns fill statistics, or nil when the canvas is unknown.
func (s *Store) Stats(ctx context.Context, canvasID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, canvasID)
	if err != nil || snap == nil {
		return nil, err
	}
	st := statsOf(snap)
	return &st, nil
}

// ResizeResult reports what an explicit resize kept and dropped.
type ResizeResult struct {
	CanvasID       string `json:"canvasId"`
	OldSize        int    `json:"oldSize"`
	NewSize        int    `json:"newSize"`
	PixelsRetained int    `json:"pixelsRetained"`
	PixelsLost     int    `json:"pixelsLost"`
}

// Resize changes the grid size, dropping cells outside the new bounds.
// Sizes are clamped to 16..256 and rounded up to a multiple of 8.
func (s *Store) Resize(ctx context.Context, canvasID string, newSize int) (ResizeResult, error) {
	if newSize < 16 || newSize > 256 {
		return ResizeResult{}, fmt.Errorf("canvas: size must be between 16 and 256")
	}
	newSize = (newSize + 7) / 8 * 8

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, canvasID)
	if err != nil {
		return ResizeResult{}, err
	}
	if snap == nil {
		return ResizeResult{}, fmt.Errorf("canvas not found: %s", canvasID)
	}

	res := ResizeResult{CanvasID: canvasID, OldSize: snap.Size, NewSize: newSize}
	kept := snap.Pixels[:0]
	for _, p := range snap.Pixels {
		if p.X < newSize && p.Y < newSize {
			kept = append(kept, p)
		}
	}
	res.PixelsLost = len(snap.Pixels) - len(kept)
	res.PixelsRetained = len(kept)
	snap.Pixels = kept
	snap.Size = newSize
	snap.LastUpdated = s.cfg.Now().UnixMilli()

	if err := s.saveLocked(ctx, snap); err != nil {
		delete(s.cache, canvasID)
		return ResizeResult{}, err
	}
	return res, nil
}

func (s *Store) loadLocked(ctx context.Context, id string) (*storage.CanvasSnapshotV1, error) {
	if e, ok := s.cache[id]; ok && s.cfg.Now().Sub(e.fetched) < s.cfg.CacheTTL {
		return e.snap, nil
	}
	snap, err := s.provider.GetCanvas(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("canvas: load %s: %w", id, err)
	}
	if snap != nil {
		s.cache[id] = cacheEntry{snap: snap, fetched: s.cfg.Now()}
	}
	return snap, nil
}

func (s *Store) saveLocked(ctx context.Context, snap *storage.CanvasSnapshotV1) error {
	if err := s.provider.SaveCanvas(ctx, snap); err != nil {
		return fmt.Errorf("canvas: save %s: %w", snap.ID, err)
	}
	s.cache[snap.ID] = cacheEntry{snap: snap, fetched: s.cfg.Now()}
	return nil
}

func (s *Store) runHook(h Hook, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Printf("canvas: post-commit hook panic: %v", r)
		}
	}()
	h(ev)
}

func statsOf(snap *storage.CanvasSnapshotV1) Stats {
	total := snap.Size * snap.Size
	filled := len(snap.Pixels)
	pct := 0.0
	if total > 0 {
		pct = math.Round(float64(filled)/float64(total)*10000) / 100
	}
	return Stats{Filled: filled, Total: total, Percentage: pct}
}

func reject(code, msg string) Result {
	return Result{Code: code, Err: msg}
}

func contains(list []string, v string) bool {
	for _, have := range list {
		if have == v {
			return true
		}
	}
	return false
}
