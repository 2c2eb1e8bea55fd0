package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pixelmolt.ai/internal/agents"
	"pixelmolt.ai/internal/battle"
	"pixelmolt.ai/internal/canvas"
	"pixelmolt.ai/internal/points"
	"pixelmolt.ai/internal/protocol"
	"pixelmolt.ai/internal/storage"
	"pixelmolt.ai/internal/transport/ws"
)

// apiServer binds the HTTP surface to the domain stores. Handlers stay thin;
// all rules live in the packages they belong to.
type apiServer struct {
	logger   *log.Logger
	canvases *canvas.Store
	battles  *battle.Manager
	ledger   *points.Ledger
	registry *agents.Registry
	hub      *ws.Hub

	placedTotal   atomic.Uint64
	rejectedTotal atomic.Uint64
}

func (s *apiServer) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/pixel", s.handlePixel)
	mux.HandleFunc("/api/canvas", s.handleCanvas)
	mux.HandleFunc("/api/canvas/", s.handleCanvasByID)
	mux.HandleFunc("/api/battle", s.handleBattle)
	mux.HandleFunc("/api/battle/", s.handleBattleByID)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/points", s.handlePoints)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/auth", s.handleAuth)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeAPIError(rw http.ResponseWriter, code, msg string) {
	writeJSON(rw, statusForCode(code), map[string]any{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func statusForCode(code string) int {
	switch code {
	case protocol.ErrValidation:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrInactive, protocol.ErrEnded, protocol.ErrNotJoined:
		return http.StatusConflict
	case protocol.ErrDenied:
		return http.StatusForbidden
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrPersistence, protocol.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// resolveAgent maps a request onto an agent ID. An X-API-Key header wins;
// otherwise the body agent ID is used as-is when known, or becomes the name
// of an anonymous identity.
func (s *apiServer) resolveAgent(ctx context.Context, r *http.Request, bodyAgentID string) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		rec, err := s.registry.ByAPIKey(ctx, key)
		if err != nil {
			return "", protocol.ErrPersistence
		}
		if rec == nil {
			return "", protocol.ErrDenied
		}
		return rec.ID, ""
	}
	bodyAgentID = strings.TrimSpace(bodyAgentID)
	if bodyAgentID == "" {
		return "", protocol.ErrValidation
	}
	rec, err := s.registry.ByID(ctx, bodyAgentID)
	if err != nil {
		return "", protocol.ErrPersistence
	}
	if rec != nil {
		return rec.ID, ""
	}
	anon, err := s.registry.GetOrCreateAnonymous(ctx, bodyAgentID)
	if err != nil {
		return "", protocol.ErrPersistence
	}
	return anon.ID, ""
}

func (s *apiServer) handlePixel(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req protocol.PlacePixelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
		return
	}
	if req.X == nil || req.Y == nil {
		writeAPIError(rw, protocol.ErrValidation, "x and y are required")
		return
	}
	canvasID := req.CanvasID
	if canvasID == "" {
		canvasID = canvas.DefaultCanvasID
	}

	agentID, code := s.resolveAgent(r.Context(), r, req.AgentID)
	if code != "" {
		s.rejectedTotal.Add(1)
		writeAPIError(rw, code, "could not resolve agent identity")
		return
	}

	res, err := s.canvases.PlacePixel(r.Context(), canvasID, *req.X, *req.Y, req.Color, agentID)
	if err != nil {
		s.logger.Printf("api: place pixel: %v", err)
		writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
		return
	}
	if !res.OK {
		s.rejectedTotal.Add(1)
		resp := protocol.PlacePixelResponse{Success: false, Error: res.Err, Code: res.Code}
		if res.Code == protocol.ErrRateLimit {
			resp.RetryAfter = int(res.Wait.Milliseconds())
		}
		writeJSON(rw, statusForCode(res.Code), resp)
		return
	}
	s.placedTotal.Add(1)

	award := s.ledger.Award(agentID, string(res.Outcome), res.PreviousOwner)
	wire := toWire(*res.Pixel)
	writeJSON(rw, http.StatusOK, protocol.PlacePixelResponse{
		Success: true,
		Pixel:   &wire,
		Canvas: &protocol.CanvasStats{
			Filled:     res.Stats.Filled,
			Total:      res.Stats.Total,
			Percentage: res.Stats.Percentage,
		},
		Points: &protocol.PointsAward{Action: award.Action, Points: award.Points, Total: award.Total},
	})
}

func (s *apiServer) handleCanvas(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.canvases.List(r.Context())
		if err != nil {
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"canvases": list})
	case http.MethodPost:
		var req struct {
			Size int `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
			return
		}
		snap, err := s.canvases.Create(r.Context(), req.Size)
		if err != nil {
			if errors.Is(err, canvas.ErrSizeOutOfRange) {
				writeAPIError(rw, protocol.ErrValidation, err.Error())
				return
			}
			s.logger.Printf("api: create canvas: %v", err)
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		writeJSON(rw, http.StatusCreated, snap)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleCanvasByID(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/canvas/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		writeAPIError(rw, protocol.ErrValidation, "canvas id required")
		return
	}
	switch tail {
	case "":
		snap, err := s.canvases.Canvas(r.Context(), id)
		if err != nil {
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		if snap == nil {
			writeAPIError(rw, protocol.ErrNotFound, "canvas not found: "+id)
			return
		}
		writeJSON(rw, http.StatusOK, snap)
	case "stats":
		st, err := s.canvases.Stats(r.Context(), id)
		if err != nil {
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		if st == nil {
			writeAPIError(rw, protocol.ErrNotFound, "canvas not found: "+id)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	default:
		writeAPIError(rw, protocol.ErrNotFound, "unknown canvas resource")
	}
}

func (s *apiServer) handleBattle(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, map[string]any{"battles": s.battles.Active()})
	case http.MethodPost:
		var req protocol.CreateBattleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
			return
		}
		snap, err := s.battles.Create(req.Size, time.Duration(req.Duration)*time.Second)
		if err != nil {
			writeAPIError(rw, protocol.ErrValidation, err.Error())
			return
		}
		writeJSON(rw, http.StatusCreated, snap)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleBattleByID(rw http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/battle/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		writeAPIError(rw, protocol.ErrValidation, "battle id required")
		return
	}

	switch {
	case tail == "" && r.Method == http.MethodGet:
		snap, ok := s.battles.Session(id)
		if !ok {
			writeAPIError(rw, protocol.ErrNotFound, "battle not found: "+id)
			return
		}
		writeJSON(rw, http.StatusOK, snap)

	case tail == "join" && r.Method == http.MethodPost:
		var req protocol.JoinBattleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
			return
		}
		agentID, code := s.resolveAgent(r.Context(), r, req.AgentID)
		if code != "" {
			writeAPIError(rw, code, "could not resolve agent identity")
			return
		}
		p, code, msg := s.battles.Join(id, agentID, battle.Team(req.Team))
		if code != "" {
			writeAPIError(rw, code, msg)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"success": true, "participant": p})

	case tail == "pixel" && r.Method == http.MethodPost:
		var req protocol.BattlePlaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
			return
		}
		if req.X == nil || req.Y == nil {
			writeAPIError(rw, protocol.ErrValidation, "x and y are required")
			return
		}
		agentID, code := s.resolveAgent(r.Context(), r, req.AgentID)
		if code != "" {
			writeAPIError(rw, code, "could not resolve agent identity")
			return
		}
		res := s.battles.Place(id, agentID, *req.X, *req.Y)
		if !res.OK {
			resp := protocol.BattlePlaceResponse{Success: false, Error: res.Err, Code: res.Code}
			if res.Code == protocol.ErrRateLimit {
				resp.Cooldown = res.Cooldown.Milliseconds()
			}
			writeJSON(rw, statusForCode(res.Code), resp)
			return
		}
		s.hub.Emit(map[string]any{
			"type":     "battle-update",
			"battleId": id,
			"pixel":    res.Pixel,
			"scores":   res.Scores,
		})
		writeJSON(rw, http.StatusOK, protocol.BattlePlaceResponse{
			Success:  true,
			Pixel:    res.Pixel,
			Cooldown: res.Cooldown.Milliseconds(),
			Scores:   res.Scores,
		})

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleLeaderboard(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"allTime": s.ledger.Leaderboard(limit),
		"today":   s.ledger.TodayLeaderboard(limit),
	})
}

func (s *apiServer) handlePoints(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		writeAPIError(rw, protocol.ErrValidation, "agentId query parameter required")
		return
	}
	e := s.ledger.AgentPoints(agentID)
	if e == nil {
		writeAPIError(rw, protocol.ErrNotFound, "no points recorded for "+agentID)
		return
	}
	writeJSON(rw, http.StatusOK, e)
}

func (s *apiServer) handleStats(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agentStats, err := s.registry.PublicStats(r.Context())
	if err != nil {
		writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
		return
	}
	canvasStats, err := s.canvases.Stats(r.Context(), canvas.DefaultCanvasID)
	if err != nil {
		writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"agents":  agentStats,
		"points":  s.ledger.Stats(),
		"canvas":  canvasStats,
		"battles": len(s.battles.Active()),
		"clients": s.hub.ClientCount(),
	})
}

func (s *apiServer) handleAuth(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req protocol.RegisterAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(rw, protocol.ErrValidation, "invalid JSON body")
			return
		}
		rec, err := s.registry.Register(r.Context(), req.Name)
		if err != nil {
			if errors.Is(err, agents.ErrInvalidName) || errors.Is(err, agents.ErrNameTaken) {
				writeAPIError(rw, protocol.ErrValidation, err.Error())
				return
			}
			s.logger.Printf("api: register: %v", err)
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		// The API key appears exactly once, in this response.
		writeJSON(rw, http.StatusCreated, map[string]any{
			"agentId": rec.ID,
			"name":    rec.Name,
			"apiKey":  rec.APIKey,
			"tier":    rec.Tier,
			"limits":  agents.TierLimits[rec.Tier],
		})
	case http.MethodGet:
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" {
			writeAPIError(rw, protocol.ErrValidation, "X-API-Key header required")
			return
		}
		rec, err := s.registry.ByAPIKey(r.Context(), key)
		if err != nil {
			writeAPIError(rw, protocol.ErrPersistence, "storage backend unavailable")
			return
		}
		if rec == nil {
			writeAPIError(rw, protocol.ErrDenied, "unknown API key")
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"agentId":      rec.ID,
			"name":         rec.Name,
			"tier":         rec.Tier,
			"pixelsPlaced": rec.PixelsPlaced,
			"limits":       agents.TierLimits[rec.Tier],
		})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func toWire(p storage.PixelV1) protocol.Pixel {
	return protocol.Pixel{
		X:         p.X,
		Y:         p.Y,
		Color:     p.Color,
		AgentID:   p.AgentID,
		Timestamp: p.Timestamp,
	}
}
