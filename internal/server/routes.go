package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kments/marblerace-backend/internal/physics"
	"github.com/kments/marblerace-backend/internal/session"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.HealthHandler)
	r.HandleFunc("/maps", s.MapsHandler)
	r.HandleFunc("/rooms/{roomId}/state", s.RoomStateHandler)

	r.HandleFunc("/ws/{roomId}", s.hub.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		// Websocket upgrades skip further CORS checks.
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response failed")
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MapsHandler lists the stage catalog so a manager UI can populate its
// selector.
func (s *Server) MapsHandler(w http.ResponseWriter, r *http.Request) {
	titles := physics.StageTitles()
	maps := make([]map[string]any, len(titles))
	for i, title := range titles {
		maps[i] = map[string]any{"index": i, "title": title}
	}
	s.writeJSON(w, http.StatusOK, maps)
}

// RoomStateHandler returns the current snapshot of a live room, letting
// late joiners render before their websocket delivers the first tick.
func (s *Server) RoomStateHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["roomId"], 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
		return
	}
	snap, err := s.manager.Snapshot(roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}
