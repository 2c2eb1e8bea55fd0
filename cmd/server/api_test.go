package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pixelmolt.ai/internal/agents"
	"pixelmolt.ai/internal/canvas"
	"pixelmolt.ai/internal/protocol"
	"pixelmolt.ai/internal/ratelimit"
	"pixelmolt.ai/internal/storage"
)

// failingProvider breaks selected backend calls while delegating the rest.
type failingProvider struct {
	storage.Provider
	listAgentsErr error
	saveCanvasErr error
}

func (f *failingProvider) ListAgents(ctx context.Context) ([]storage.AgentRecordV1, error) {
	if f.listAgentsErr != nil {
		return nil, f.listAgentsErr
	}
	return f.Provider.ListAgents(ctx)
}

func (f *failingProvider) SaveCanvas(ctx context.Context, snap *storage.CanvasSnapshotV1) error {
	if f.saveCanvasErr != nil {
		return f.saveCanvasErr
	}
	return f.Provider.SaveCanvas(ctx, snap)
}

func newTestAPI(provider storage.Provider) *apiServer {
	logger := log.New(io.Discard, "", 0)
	return &apiServer{
		logger:   logger,
		canvases: canvas.NewStore(provider, ratelimit.New(provider), canvas.Config{Logger: logger}),
		registry: agents.NewRegistry(provider, logger),
	}
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	out := map[string]any{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, out
}

func TestRegister_ErrorClassification(t *testing.T) {
	fp := &failingProvider{Provider: storage.NewMemory()}
	api := newTestAPI(fp)

	// Name-rule violations are the caller's fault.
	rec, out := doJSON(t, api.handleAuth, http.MethodPost, "/api/auth", `{"name":"x"}`)
	if rec.Code != http.StatusBadRequest || out["code"] != protocol.ErrValidation {
		t.Fatalf("short name: status=%d code=%v, want 400 %s", rec.Code, out["code"], protocol.ErrValidation)
	}

	// A broken backend is not.
	fp.listAgentsErr = errors.New("connection refused")
	rec, out = doJSON(t, api.handleAuth, http.MethodPost, "/api/auth", `{"name":"painter"}`)
	if rec.Code != http.StatusInternalServerError || out["code"] != protocol.ErrPersistence {
		t.Fatalf("backend fault: status=%d code=%v, want 500 %s", rec.Code, out["code"], protocol.ErrPersistence)
	}

	fp.listAgentsErr = nil
	rec, _ = doJSON(t, api.handleAuth, http.MethodPost, "/api/auth", `{"name":"painter"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status=%d, want 201", rec.Code)
	}
	rec, out = doJSON(t, api.handleAuth, http.MethodPost, "/api/auth", `{"name":"PAINTER"}`)
	if rec.Code != http.StatusBadRequest || out["code"] != protocol.ErrValidation {
		t.Fatalf("taken name: status=%d code=%v, want 400 %s", rec.Code, out["code"], protocol.ErrValidation)
	}
}

func TestCreateCanvas_ErrorClassification(t *testing.T) {
	fp := &failingProvider{Provider: storage.NewMemory()}
	api := newTestAPI(fp)

	rec, out := doJSON(t, api.handleCanvas, http.MethodPost, "/api/canvas", `{"size":4}`)
	if rec.Code != http.StatusBadRequest || out["code"] != protocol.ErrValidation {
		t.Fatalf("bad size: status=%d code=%v, want 400 %s", rec.Code, out["code"], protocol.ErrValidation)
	}

	fp.saveCanvasErr = errors.New("disk full")
	rec, out = doJSON(t, api.handleCanvas, http.MethodPost, "/api/canvas", `{"size":64}`)
	if rec.Code != http.StatusInternalServerError || out["code"] != protocol.ErrPersistence {
		t.Fatalf("backend fault: status=%d code=%v, want 500 %s", rec.Code, out["code"], protocol.ErrPersistence)
	}

	fp.saveCanvasErr = nil
	rec, _ = doJSON(t, api.handleCanvas, http.MethodPost, "/api/canvas", `{"size":64}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status=%d, want 201", rec.Code)
	}
}
