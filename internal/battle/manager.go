package battle

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixelmolt.ai/internal/protocol"
	"pixelmolt.ai/internal/storage"
)

type Team string

const (
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
)

// Fixed team colors; battle pixels never carry free-form colors.
var TeamColors = map[Team]string{
	TeamRed:  "#EF4444",
	TeamBlue: "#3B82F6",
}

// Session lifecycle. Transitions are monotonic; ended is terminal. Sessions
// are created already active.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

const (
	minSize     = 8
	maxSize     = 128
	minDuration = 60 * time.Second
	maxDuration = 3600 * time.Second
)

type Participant struct {
	AgentID         string    `json:"agentId"`
	Team            Team      `json:"team"`
	PlacedCount     int       `json:"pixelsPlaced"`
	LastPlacementAt time.Time `json:"-"`
}

type cell struct {
	pixel storage.PixelV1
	team  Team
}

type session struct {
	id        string
	size      int
	duration  time.Duration
	startTime time.Time
	endTime   time.Time
	status    string
	// participants keyed by agent ID; joinOrder preserves insertion for
	// deterministic serialization.
	participants map[string]*Participant
	joinOrder    []string
	cells        map[[2]int]*cell
	scores       map[Team]int
	winner       string // "red", "blue" or "draw"; empty until ended
}

// Snapshot is the reference-free serialized view of a session. Internal maps
// become ordered sequences.
type Snapshot struct {
	ID            string            `json:"id"`
	Size          int               `json:"canvasSize"`
	Duration      int               `json:"duration"` // seconds
	TimeRemaining int               `json:"timeRemaining"`
	Status        string            `json:"status"`
	Participants  []Participant     `json:"participants"`
	Pixels        []protocol.Pixel  `json:"pixels"`
	Scores        map[string]int    `json:"scores"`
	Winner        string            `json:"winner,omitempty"`
	Teams         map[string]Roster `json:"teams"`
}

type Roster struct {
	Color   string   `json:"color"`
	Members []string `json:"members"`
}

// PlaceResult carries either a committed battle pixel or a structured
// rejection. Cooldown is the wait remaining on rejection, or the base
// cooldown the agent is now under after a success.
type PlaceResult struct {
	OK       bool
	Pixel    *protocol.Pixel
	Cooldown time.Duration
	Scores   map[string]int
	Code     string
	Err      string
}

type Config struct {
	BaseCooldown        time.Duration
	OverwriteMultiplier int
	Logger              *log.Logger
	Now                 func() time.Time
}

// Manager owns all battle sessions. Sessions are mutually independent and
// independent of the main canvas; expiry is reconciled lazily at the start of
// every operation, so no background timer is required.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	cfg      Config
}

func NewManager(cfg Config) *Manager {
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = time.Second
	}
	if cfg.OverwriteMultiplier < 1 {
		cfg.OverwriteMultiplier = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{sessions: make(map[string]*session), cfg: cfg}
}

// Create starts a new session, active immediately.
func (m *Manager) Create(size int, duration time.Duration) (Snapshot, error) {
	if size < minSize || size > maxSize {
		return Snapshot{}, fmt.Errorf("battle: size must be between %d and %d", minSize, maxSize)
	}
	if duration < minDuration || duration > maxDuration {
		return Snapshot{}, fmt.Errorf("battle: duration must be between %s and %s", minDuration, maxDuration)
	}

	now := m.cfg.Now()
	s := &session{
		id:           fmt.Sprintf("battle_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		size:         size,
		duration:     duration,
		startTime:    now,
		endTime:      now.Add(duration),
		status:       StatusActive,
		participants: make(map[string]*Participant),
		cells:        make(map[[2]int]*cell),
		scores:       map[Team]int{TeamRed: 0, TeamBlue: 0},
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	snap := m.serializeLocked(s)
	m.mu.Unlock()

	m.cfg.Logger.Printf("battle: created %s size=%d duration=%s", s.id, size, duration)
	return snap, nil
}

// Join adds an agent to a team. Idempotent by agent ID: a repeat call returns
// the original participant unchanged, even with a different team argument.
func (m *Manager) Join(sessionID, agentID string, team Team) (Participant, string, string) {
	if agentID == "" {
		return Participant{}, protocol.ErrValidation, "agentId must not be empty"
	}
	if team != TeamRed && team != TeamBlue {
		return Participant{}, protocol.ErrValidation, fmt.Sprintf("unknown team: %s", team)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Participant{}, protocol.ErrNotFound, "battle not found"
	}
	m.reconcileLocked(s)
	if s.status == StatusEnded {
		return Participant{}, protocol.ErrEnded, "battle has ended"
	}

	if existing, ok := s.participants[agentID]; ok {
		return *existing, "", ""
	}
	p := &Participant{AgentID: agentID, Team: team}
	s.participants[agentID] = p
	s.joinOrder = append(s.joinOrder, agentID)
	return *p, "", ""
}

// Place writes one battle cell. The required cooldown doubles when the target
// cell is currently held by the opposing team; re-placing on an own-team cell
// stays at the base cooldown (a cheap refresh with no score change).
// Score deltas are applied in the same step as the cell mutation.
func (m *Manager) Place(sessionID, agentID string, x, y int) PlaceResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return PlaceResult{Code: protocol.ErrNotFound, Err: "battle not found"}
	}
	m.reconcileLocked(s)
	if s.status == StatusEnded {
		return PlaceResult{Code: protocol.ErrEnded, Err: "battle has ended"}
	}

	p, ok := s.participants[agentID]
	if !ok {
		return PlaceResult{Code: protocol.ErrNotJoined, Err: "not in battle, join first"}
	}
	if x < 0 || x >= s.size || y < 0 || y >= s.size {
		return PlaceResult{Code: protocol.ErrValidation, Err: "coordinates out of bounds"}
	}

	now := m.cfg.Now()
	existing := s.cells[[2]int{x, y}]
	required := m.cfg.BaseCooldown
	if existing != nil && existing.team != p.Team {
		required *= time.Duration(m.cfg.OverwriteMultiplier)
	}
	if !p.LastPlacementAt.IsZero() {
		if elapsed := now.Sub(p.LastPlacementAt); elapsed < required {
			return PlaceResult{
				Code:     protocol.ErrRateLimit,
				Err:      "cooldown active",
				Cooldown: required - elapsed,
			}
		}
	}

	// Score delta and cell mutation happen together; scores always equal the
	// per-team cell counts.
	if existing != nil {
		s.scores[existing.team]--
	}
	px := storage.PixelV1{
		X:         x,
		Y:         y,
		Color:     TeamColors[p.Team],
		AgentID:   agentID,
		Timestamp: now.UnixMilli(),
	}
	s.cells[[2]int{x, y}] = &cell{pixel: px, team: p.Team}
	s.scores[p.Team]++
	p.PlacedCount++
	p.LastPlacementAt = now

	wire := toWirePixel(px, p.Team)
	return PlaceResult{
		OK:       true,
		Pixel:    &wire,
		Cooldown: m.cfg.BaseCooldown,
		Scores:   scoresOf(s),
	}
}

// End forces the terminal transition and computes the winner.
func (m *Manager) End(sessionID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	m.endLocked(s)
	return m.serializeLocked(s), true
}

// Session returns the serialized session, reconciling expiry first.
func (m *Manager) Session(sessionID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	m.reconcileLocked(s)
	return m.serializeLocked(s), true
}

// Active lazily ends any expired session, then returns the remaining
// active set.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Snapshot{}
	for _, s := range m.sessions {
		m.reconcileLocked(s)
		if s.status == StatusActive {
			out = append(out, m.serializeLocked(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// reconcileLocked applies the lazy expiry transition: past endTime, the
// session ends and the winner is computed exactly once.
func (m *Manager) reconcileLocked(s *session) {
	if s.status == StatusActive && !m.cfg.Now().Before(s.endTime) {
		m.endLocked(s)
	}
}

func (m *Manager) endLocked(s *session) {
	if s.status == StatusEnded {
		return
	}
	s.status = StatusEnded
	switch {
	case s.scores[TeamRed] > s.scores[TeamBlue]:
		s.winner = string(TeamRed)
	case s.scores[TeamBlue] > s.scores[TeamRed]:
		s.winner = string(TeamBlue)
	default:
		s.winner = "draw"
	}
	m.cfg.Logger.Printf("battle: ended %s winner=%s red=%d blue=%d",
		s.id, s.winner, s.scores[TeamRed], s.scores[TeamBlue])
}

func (m *Manager) serializeLocked(s *session) Snapshot {
	now := m.cfg.Now()
	remaining := int(s.endTime.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}

	parts := make([]Participant, 0, len(s.participants))
	rosters := map[string]Roster{
		string(TeamRed):  {Color: TeamColors[TeamRed], Members: []string{}},
		string(TeamBlue): {Color: TeamColors[TeamBlue], Members: []string{}},
	}
	for _, id := range s.joinOrder {
		p := s.participants[id]
		parts = append(parts, *p)
		r := rosters[string(p.Team)]
		r.Members = append(r.Members, p.AgentID)
		rosters[string(p.Team)] = r
	}

	pixels := make([]protocol.Pixel, 0, len(s.cells))
	for _, c := range s.cells {
		pixels = append(pixels, toWirePixel(c.pixel, c.team))
	}
	sort.Slice(pixels, func(i, j int) bool {
		if pixels[i].Y != pixels[j].Y {
			return pixels[i].Y < pixels[j].Y
		}
		return pixels[i].X < pixels[j].X
	})

	return Snapshot{
		ID:            s.id,
		Size:          s.size,
		Duration:      int(s.duration / time.Second),
		TimeRemaining: remaining,
		Status:        s.status,
		Participants:  parts,
		Pixels:        pixels,
		Scores:        scoresOf(s),
		Winner:        s.winner,
		Teams:         rosters,
	}
}

func scoresOf(s *session) map[string]int {
	return map[string]int{
		string(TeamRed):  s.scores[TeamRed],
		string(TeamBlue): s.scores[TeamBlue],
	}
}

func toWirePixel(p storage.PixelV1, team Team) protocol.Pixel {
	return protocol.Pixel{
		X:         p.X,
		Y:         p.Y,
		Color:     p.Color,
		AgentID:   p.AgentID,
		Timestamp: p.Timestamp,
		Team:      string(team),
	}
}
