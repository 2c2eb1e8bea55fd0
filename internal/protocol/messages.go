package protocol

// Wire types for the HTTP API and the ws fan-out. Field names are part of the
// client contract: camelCase, millisecond timestamps.

// Pixel is one committed cell as seen on the wire.
type Pixel struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Color     string `json:"color"`
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp"`
	Team      string `json:"team,omitempty"`
}

// CanvasStats reports fill progress; Percentage carries two decimals.
type CanvasStats struct {
	Filled     int     `json:"filled"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type PlacePixelRequest struct {
	CanvasID string `json:"canvasId"`
	X        *int   `json:"x"`
	Y        *int   `json:"y"`
	Color    string `json:"color"`
	AgentID  string `json:"agentId,omitempty"`
}

type PlacePixelResponse struct {
	Success    bool          `json:"success"`
	Pixel      *Pixel        `json:"pixel,omitempty"`
	Canvas     *CanvasStats  `json:"canvas,omitempty"`
	Points     *PointsAward  `json:"points,omitempty"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	RetryAfter int           `json:"retryAfter,omitempty"`
}

type PointsAward struct {
	Action string `json:"action"`
	Points int    `json:"points"`
	Total  int    `json:"total"`
}

// PixelEvent is the ws broadcast sent after every committed placement.
type PixelEvent struct {
	Type     string `json:"type"` // "pixel-update"
	CanvasID string `json:"canvasId"`
	Pixel    Pixel  `json:"pixel"`
	Outcome  string `json:"outcome"`
}

type CreateBattleRequest struct {
	Size     int `json:"size"`
	Duration int `json:"duration"` // seconds
}

type JoinBattleRequest struct {
	AgentID string `json:"agentId"`
	Team    string `json:"team"`
}

type BattlePlaceRequest struct {
	AgentID string `json:"agentId"`
	X       *int   `json:"x"`
	Y       *int   `json:"y"`
}

type BattlePlaceResponse struct {
	Success  bool           `json:"success"`
	Pixel    *Pixel         `json:"pixel,omitempty"`
	Cooldown int64          `json:"cooldown,omitempty"` // ms
	Scores   map[string]int `json:"scores,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
}

type RegisterAgentRequest struct {
	Name string `json:"name"`
}
