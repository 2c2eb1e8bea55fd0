package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pixelmolt.ai/internal/agents"
	"pixelmolt.ai/internal/battle"
	"pixelmolt.ai/internal/canvas"
	"pixelmolt.ai/internal/config"
	"pixelmolt.ai/internal/persistence/journal"
	"pixelmolt.ai/internal/points"
	"pixelmolt.ai/internal/protocol"
	"pixelmolt.ai/internal/ratelimit"
	"pixelmolt.ai/internal/storage"
	"pixelmolt.ai/internal/storage/filestore"
	"pixelmolt.ai/internal/storage/kvrest"
	"pixelmolt.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/pixelmolt.yaml", "config file path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite placement index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("PIXELMOLT_KV_URL")); v != "" {
		cfg.Storage.KV.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("PIXELMOLT_KV_TOKEN")); v != "" {
		cfg.Storage.KV.Token = v
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = *dataDir
	}

	// The backend is chosen once at process start and never re-selected.
	var provider storage.Provider
	switch cfg.Storage.Backend {
	case "memory":
		provider = storage.NewMemory()
	case "file":
		fs, err := filestore.Open(cfg.Storage.Dir)
		if err != nil {
			logger.Fatalf("open filestore: %v", err)
		}
		provider = fs
	case "kv":
		kv, err := kvrest.Open(cfg.Storage.KV.URL, cfg.Storage.KV.Token)
		if err != nil {
			logger.Fatalf("open kv store: %v", err)
		}
		provider = kv
	default:
		logger.Fatalf("unknown storage backend %q", cfg.Storage.Backend)
	}
	logger.Printf("storage backend: %s", cfg.Storage.Backend)

	ctx, cancel := signalContext()
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := provider.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatalf("storage ping: %v", err)
	}
	pingCancel()

	limiter := ratelimit.New(provider)
	ledger := points.NewLedger(provider, logger)
	if err := ledger.Load(ctx); err != nil {
		logger.Fatalf("load points: %v", err)
	}
	registry := agents.NewRegistry(provider, logger)
	hub := ws.NewHub(logger)

	canvases := canvas.NewStore(provider, limiter, canvas.Config{
		DefaultSize: cfg.Canvas.DefaultSize,
		Cooldown:    cfg.Canvas.Cooldown(),
		CacheTTL:    cfg.Canvas.CacheTTL(),
		Logger:      logger,
	})
	if err := canvases.EnsureDefault(ctx); err != nil {
		logger.Fatalf("ensure default canvas: %v", err)
	}

	battles := battle.NewManager(battle.Config{
		BaseCooldown:        cfg.Battle.BaseCooldown(),
		OverwriteMultiplier: cfg.Battle.OverwriteMultiplier,
		Logger:              logger,
	})

	placementLog := journal.NewPlacementLogger(*dataDir)
	defer placementLog.Close()

	var idx *journal.SQLiteIndex
	if !*disableDB {
		idx, err = journal.OpenSQLite(filepath.Join(*dataDir, "index", "placements.db"))
		if err != nil {
			logger.Fatalf("open placement index: %v", err)
		}
		defer idx.Close()
	} else {
		logger.Printf("placement index disabled")
	}

	// Post-commit pipeline: journal, index, per-agent counters, fan-out.
	// Scoring stays in the HTTP handler because the award rides the response.
	canvases.OnCommit(func(ev canvas.Event) {
		entry := journal.Entry{
			Time:          ev.Pixel.Timestamp,
			CanvasID:      ev.CanvasID,
			X:             ev.Pixel.X,
			Y:             ev.Pixel.Y,
			Color:         ev.Pixel.Color,
			AgentID:       ev.Pixel.AgentID,
			Outcome:       string(ev.Outcome),
			PreviousOwner: ev.PreviousOwner,
		}
		if err := placementLog.WritePlacement(entry); err != nil {
			logger.Printf("journal: %v", err)
		}
		if idx != nil {
			_ = idx.WritePlacement(entry)
		}
		registry.RecordPlacement(context.Background(), ev.Pixel.AgentID)
		hub.Emit(protocol.PixelEvent{
			Type:     "pixel-update",
			CanvasID: ev.CanvasID,
			Pixel: protocol.Pixel{
				X:         ev.Pixel.X,
				Y:         ev.Pixel.Y,
				Color:     ev.Pixel.Color,
				AgentID:   ev.Pixel.AgentID,
				Timestamp: ev.Pixel.Timestamp,
			},
			Outcome: string(ev.Outcome),
		})
	})

	api := &apiServer{
		logger:   logger,
		canvases: canvases,
		battles:  battles,
		ledger:   ledger,
		registry: registry,
		hub:      hub,
	}

	mux := http.NewServeMux()
	api.register(mux)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		ps := ledger.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP pixelmolt_placements_total Committed pixel placements.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_placements_total counter\n")
		fmt.Fprintf(rw, "pixelmolt_placements_total %d\n", api.placedTotal.Load())

		fmt.Fprintf(rw, "# HELP pixelmolt_rejections_total Rejected placement attempts.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_rejections_total counter\n")
		fmt.Fprintf(rw, "pixelmolt_rejections_total %d\n", api.rejectedTotal.Load())

		fmt.Fprintf(rw, "# HELP pixelmolt_points_total Total points awarded.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_points_total gauge\n")
		fmt.Fprintf(rw, "pixelmolt_points_total %d\n", ps.TotalPoints)

		fmt.Fprintf(rw, "# HELP pixelmolt_scored_agents Agents with at least one award.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_scored_agents gauge\n")
		fmt.Fprintf(rw, "pixelmolt_scored_agents %d\n", ps.TotalAgents)

		fmt.Fprintf(rw, "# HELP pixelmolt_battles_active Currently active battle sessions.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_battles_active gauge\n")
		fmt.Fprintf(rw, "pixelmolt_battles_active %d\n", len(battles.Active()))

		fmt.Fprintf(rw, "# HELP pixelmolt_ws_clients Connected websocket subscribers.\n")
		fmt.Fprintf(rw, "# TYPE pixelmolt_ws_clients gauge\n")
		fmt.Fprintf(rw, "pixelmolt_ws_clients %d\n", hub.ClientCount())
	})

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/resize", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		id := r.URL.Query().Get("canvas")
		if id == "" {
			id = canvas.DefaultCanvasID
		}
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil {
			http.Error(rw, "size query parameter required", http.StatusBadRequest)
			return
		}
		res, err := canvases.Resize(r.Context(), id, size)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		logger.Printf("resized canvas %s: %d -> %d (%d pixels dropped)",
			res.CanvasID, res.OldSize, res.NewSize, res.PixelsLost)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "result": res})
	})

	// For operators running several instances over one shared backend: drop
	// the local read cache so the next read picks up another writer's state.
	mux.HandleFunc("/admin/v1/invalidate", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		id := r.URL.Query().Get("canvas")
		if id == "" {
			id = canvas.DefaultCanvasID
		}
		canvases.Invalidate(id)
		logger.Printf("invalidated cached canvas %s", id)
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "canvas": id})
	})

	mux.HandleFunc("/v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
