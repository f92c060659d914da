// Package ws is the realtime transport: one websocket channel per room,
// broadcast fan-out, live member counts for the idle collector, and
// decoding of inbound room commands.
package ws

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/session"
)

// Message is the wire envelope for every outbound event.
type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	roomID    int64
	name      string
	isManager bool
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks which clients watch which room and pushes room events to them.
// It implements session.Presence and session.Broadcaster.
type Hub struct {
	log      zerolog.Logger
	manager  *session.Manager
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[int64]map[*client]struct{}
}

var (
	_ session.Presence    = (*Hub)(nil)
	_ session.Broadcaster = (*Hub)(nil)
)

func NewHub(manager *session.Manager, log zerolog.Logger) *Hub {
	return &Hub{
		log:     log.With().Str("component", "ws").Logger(),
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[int64]map[*client]struct{}),
	}
}

// MemberCount reports how many live connections watch the room channel.
func (h *Hub) MemberCount(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Broadcast sends one event to every member of the room channel. Dead
// connections are dropped as they fail.
func (h *Hub) Broadcast(roomID int64, event string, payload any) {
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	msg := Message[any]{Type: event, Data: payload}
	for _, c := range members {
		if err := c.send(msg); err != nil {
			h.log.Debug().Err(err).Int64("room", roomID).Str("client", c.name).Msg("dropping dead connection")
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.roomID]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[c.roomID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[c.roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
}

// HandleWebSocket upgrades the connection and joins the client to the
// room's channel, loading the room on first access. The manager role comes
// from the join request; real authentication sits in front of this handler.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["roomId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anonymous"
	}
	c := &client{
		conn:      conn,
		roomID:    roomID,
		name:      name,
		isManager: r.URL.Query().Get("role") == "manager",
	}

	room, err := h.manager.LoadRoom(r.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Int64("room", roomID).Msg("room load failed")
		c.send(Message[any]{Type: "error", Data: errorPayload("join", err)})
		conn.Close()
		return
	}

	h.add(c)
	h.log.Info().Int64("room", roomID).Str("client", name).Bool("manager", c.isManager).Msg("client joined")

	// Late joiners get the current state immediately instead of waiting
	// for the next loop tick.
	c.send(Message[any]{Type: "state", Data: room.Snapshot()})

	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.log.Info().Int64("room", c.roomID).Str("client", c.name).Msg("client left")
	}()

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("client", c.name).Msg("read failed")
			}
			return
		}
		if err := h.dispatch(c, env); err != nil {
			c.send(Message[any]{Type: "error", Data: errorPayload(env.Type, err)})
		}
	}
}

type errorData struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorPayload(command string, err error) errorData {
	code := "internal"
	switch {
	case errors.Is(err, errManagerOnly):
		code = "forbidden"
	case errors.Is(err, session.ErrRoomNotFound):
		code = "not_found"
	case errors.Is(err, session.ErrConflict):
		code = "conflict"
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, session.ErrInvalidSkill):
		code = "invalid_argument"
	}
	return errorData{Command: command, Code: code, Message: err.Error()}
}
