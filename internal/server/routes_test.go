package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/physics"
	"github.com/kments/marblerace-backend/internal/physics/phystest"
	"github.com/kments/marblerace-backend/internal/session"
	"github.com/kments/marblerace-backend/internal/store"
	"github.com/kments/marblerace-backend/internal/ws"
)

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	log := zerolog.Nop()
	manager := session.NewManager(store.NewMemory(), func() physics.Engine {
		return phystest.New()
	}, log)
	hub := ws.NewHub(manager, log)
	manager.SetTransport(hub, hub)
	t.Cleanup(manager.Shutdown)
	return New(Config{Port: 0}, manager, hub, log), manager
}

func TestHealthRoute(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMapsRoute(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/maps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var maps []struct {
		Index int    `json:"index"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &maps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(maps) != physics.StageCount() {
		t.Fatalf("%d maps, want %d", len(maps), physics.StageCount())
	}
	for i, m := range maps {
		if m.Index != i || m.Title == "" {
			t.Errorf("map %d = %+v", i, m)
		}
	}
}

func TestRoomStateRoute(t *testing.T) {
	s, manager := newTestServer(t)
	router := s.RegisterRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/7/state", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unloaded room: status %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/abc/state", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad room id: status %d, want 400", rec.Code)
	}

	if _, err := manager.LoadRoom(context.Background(), 7); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/7/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("loaded room: status %d", rec.Code)
	}
	var snap struct {
		IsRunning bool `json:"isRunning"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.IsRunning {
		t.Error("fresh room reports running")
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/maps", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
