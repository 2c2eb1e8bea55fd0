package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"pixelmolt.ai/internal/ratelimit"
	"pixelmolt.ai/internal/storage"
)

// Store is the durable local backend. Every key maps to one zstd-compressed
// JSON object under the data directory; writes go through a temp file and a
// rename so a crash never leaves a torn object behind.
//
// Rate-limit timestamps are kept in memory only; they are sub-minute transient
// state and do not survive a restart.
type Store struct {
	dir   string
	mu    sync.Mutex // serializes read-modify-write of shared objects (agents, points)
	rates *ratelimit.Table
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("filestore: empty data dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &Store{dir: dir, rates: ratelimit.NewTable()}, nil
}

// RateTable exposes the in-memory rate table so tests can pin its clock.
func (s *Store) RateTable() *ratelimit.Table { return s.rates }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json.zst")
}

func (s *Store) readJSON(key string, v any) (bool, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(v); err != nil {
		return false, fmt.Errorf("filestore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) writeJSON(key string, v any) error {
	path := s.path(key)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("filestore: encode %s: %w", key, err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) GetCanvas(_ context.Context, id string) (*storage.CanvasSnapshotV1, error) {
	var snap storage.CanvasSnapshotV1
	ok, err := s.readJSON("canvas_"+id, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveCanvas(_ context.Context, snap *storage.CanvasSnapshotV1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeJSON("canvas_"+snap.ID, snap); err != nil {
		return err
	}
	return s.updateCanvasIndex(snap.ID)
}

func (s *Store) ListCanvases(ctx context.Context) ([]storage.CanvasSnapshotV1, error) {
	s.mu.Lock()
	var ids []string
	_, err := s.readJSON("canvas_index", &ids)
	s.mu.Unlock()
	if err != nil {
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

func (s *Store) updateCanvasIndex(id string) error {
	var ids []string
	if _, err := s.readJSON("canvas_index", &ids); err != nil {
		return err
	}
	for _, have := range ids {
		if have == id {
			return nil
		}
	}
	return s.writeJSON("canvas_index", append(ids, id))
}

func (s *Store) GetAgent(ctx context.Context, apiKey string) (*storage.AgentRecordV1, error) {
	if apiKey == "" {
		return nil, nil
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].APIKey == apiKey {
			return &agents[i], nil
		}
	}
	return nil, nil
}

func (s *Store) GetAgentByID(_ context.Context, id string) (*storage.AgentRecordV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents, err := s.loadAgents()
	if err != nil {
		return nil, err
	}
	rec, ok := agents[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) SaveAgent(_ context.Context, rec *storage.AgentRecordV1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents, err := s.loadAgents()
	if err != nil {
		return err
	}
	agents[rec.ID] = *rec
	return s.writeJSON("agents", agents)
}

func (s *Store) ListAgents(_ context.Context) ([]storage.AgentRecordV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents, err := s.loadAgents()
	if err != nil {
		return nil, err
	}
	out := make([]storage.AgentRecordV1, 0, len(agents))
	for _, a := range agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) loadAgents() (map[string]storage.AgentRecordV1, error) {
	agents := make(map[string]storage.AgentRecordV1)
	if _, err := s.readJSON("agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *Store) GetPoints(_ context.Context) (*storage.PointsSnapshotV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap storage.PointsSnapshotV1
	ok, err := s.readJSON("points", &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SavePoints(_ context.Context, snap *storage.PointsSnapshotV1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON("points", snap)
}

func (s *Store) CheckRateLimit(_ context.Context, agentID string, cooldown time.Duration) (ratelimit.Result, error) {
	return s.rates.Check(agentID, cooldown), nil
}

func (s *Store) TouchRateLimit(_ context.Context, agentID string, at time.Time) error {
	s.rates.Touch(agentID, at)
	return nil
}

func (s *Store) Ping(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}
