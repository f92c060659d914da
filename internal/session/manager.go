package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/physics"
	"github.com/kments/marblerace-backend/internal/sim"
	"github.com/kments/marblerace-backend/internal/store"
)

// EngineFactory builds a fresh physics backend for each room.
type EngineFactory func() physics.Engine

// Presence exposes live membership of a room's transport channel.
type Presence interface {
	MemberCount(roomID int64) int
}

// Broadcaster pushes an event to every member of a room's channel.
type Broadcaster interface {
	Broadcast(roomID int64, event string, payload any)
}

// Manager owns the map of live rooms. It enforces at most one simulation
// per room id, orchestrates persisted status transitions and runs the
// idle-room collector.
type Manager struct {
	log       zerolog.Logger
	store     store.Store
	newEngine EngineFactory

	presence  Presence
	broadcast Broadcaster

	mu    sync.RWMutex
	rooms map[int64]*Room

	collecting atomic.Bool
}

func NewManager(st store.Store, newEngine EngineFactory, log zerolog.Logger) *Manager {
	return &Manager{
		log:       log.With().Str("component", "session").Logger(),
		store:     st,
		newEngine: newEngine,
		rooms:     make(map[int64]*Room),
	}
}

// SetTransport wires the realtime transport in after construction; the hub
// needs the manager first, so this breaks the cycle.
func (m *Manager) SetTransport(p Presence, b Broadcaster) {
	m.presence = p
	m.broadcast = b
}

func (m *Manager) getRoom(roomID int64) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	return room, nil
}

// LoadRoom returns the live room for the id, creating and hydrating it from
// persisted configuration on first access. Re-requesting an existing id
// always returns the same instance.
func (m *Manager) LoadRoom(ctx context.Context, roomID int64) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		return room, nil
	}

	simulation, err := sim.New(m.newEngine(), m.log.With().Int64("room", roomID).Logger())
	if err != nil {
		return nil, err
	}
	room := &Room{ID: roomID, sim: simulation}

	cfg, err := m.store.LoadGameConfig(ctx, roomID)
	if err != nil {
		simulation.Destroy()
		return nil, err
	}
	if cfg != nil {
		if err := applyConfig(simulation, cfg); err != nil {
			// A half-configured room must not stay resident.
			simulation.Destroy()
			return nil, err
		}
		if cfg.Status == store.StatusInProgress {
			simulation.Start()
			room.running = true
		}
	}

	m.rooms[roomID] = room
	m.log.Info().Int64("room", roomID).Bool("resumed", room.running).Msg("room loaded")
	if room.running {
		m.startLoop(room)
	}
	return room, nil
}

func applyConfig(s *sim.Roulette, cfg *store.GameConfig) error {
	if err := s.SetStage(cfg.MapIndex); err != nil {
		return fmt.Errorf("%w: map index %d", ErrInvalidArgument, cfg.MapIndex)
	}
	if len(cfg.MarbleNames) > 0 {
		s.SetMarbles(cfg.MarbleNames)
	}
	s.SetWinningRank(cfg.WinningRank)
	if cfg.Speed > 0 {
		s.SetSpeed(cfg.Speed)
	}
	return nil
}

// StartGame transitions the room to IN_PROGRESS. Starting an already
// running game only reconciles the in-memory flag; a finished game is a
// conflict.
func (m *Manager) StartGame(ctx context.Context, roomID int64) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	cfg, err := m.store.LoadGameConfig(ctx, roomID)
	if err != nil {
		return err
	}
	if cfg != nil {
		switch cfg.Status {
		case store.StatusFinished:
			return fmt.Errorf("%w: game already finished", ErrConflict)
		case store.StatusInProgress:
			room.mu.Lock()
			if !room.running {
				room.sim.Start()
				room.running = true
			}
			room.mu.Unlock()
			m.startLoop(room)
			return nil
		}
	}

	room.mu.Lock()
	room.sim.Start()
	room.running = true
	patch := configSnapshot(room.sim)
	room.mu.Unlock()

	status := store.StatusInProgress
	patch.Status = &status
	if _, err := m.store.UpsertGameConfig(ctx, roomID, patch); err != nil {
		return err
	}
	m.startLoop(room)
	return nil
}

func configSnapshot(s *sim.Roulette) store.ConfigPatch {
	mapIndex := s.MapIndex()
	rank := s.WinnerRank()
	speed := s.Speed()
	return store.ConfigPatch{
		MapIndex:    &mapIndex,
		MarbleNames: s.Names(),
		WinningRank: &rank,
		Speed:       &speed,
	}
}

// EndGame finalizes a running game: status FINISHED plus final rankings in
// one transaction. Calling it on a non-running room is a conflict.
func (m *Manager) EndGame(ctx context.Context, roomID int64) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	if !room.Running() {
		return fmt.Errorf("%w: game is not running", ErrConflict)
	}
	if err := m.finalizeGame(ctx, room); err != nil {
		return err
	}
	m.stopLoop(room)
	return nil
}

// finalizeGame persists the end of a game. On persistence failure the
// in-memory room keeps running=true so the caller can retry; the game is
// not considered ended.
func (m *Manager) finalizeGame(ctx context.Context, room *Room) error {
	room.mu.Lock()
	rows := toStoreRankings(room.sim.FinalRanking())
	room.mu.Unlock()

	if err := m.store.FinishGame(ctx, room.ID, rows); err != nil {
		return err
	}
	room.mu.Lock()
	room.running = false
	room.mu.Unlock()
	m.log.Info().Int64("room", room.ID).Int("rows", len(rows)).Msg("game finished")
	return nil
}

func toStoreRankings(rows []sim.Ranking) []store.Ranking {
	out := make([]store.Ranking, len(rows))
	for i, r := range rows {
		out[i] = store.Ranking{Rank: r.Rank, MarbleID: r.MarbleID, Name: r.Name, IsWinner: r.IsWinnerGoal}
	}
	return out
}

// configurable rejects mutation when the persisted status forbids it.
// Configuration is only legal in WAITING; speed changes additionally pass
// while IN_PROGRESS.
func (m *Manager) configurable(ctx context.Context, roomID int64, allowInProgress bool) (*Room, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	cfg, err := m.store.LoadGameConfig(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		switch cfg.Status {
		case store.StatusFinished:
			return nil, fmt.Errorf("%w: game already finished", ErrConflict)
		case store.StatusInProgress:
			if !allowInProgress {
				return nil, fmt.Errorf("%w: game in progress", ErrConflict)
			}
		}
	}
	return room, nil
}

// SetMarbles replaces the roster and forces the persisted status back to
// WAITING.
func (m *Manager) SetMarbles(ctx context.Context, roomID int64, names []string) error {
	room, err := m.configurable(ctx, roomID, false)
	if err != nil {
		return err
	}
	room.mu.Lock()
	room.sim.SetMarbles(names)
	room.running = false
	room.mu.Unlock()

	status := store.StatusWaiting
	_, err = m.store.UpsertGameConfig(ctx, roomID, store.ConfigPatch{
		MarbleNames: append([]string{}, names...),
		Status:      &status,
	})
	return err
}

func (m *Manager) SetWinningRank(ctx context.Context, roomID int64, rank int) error {
	if rank < 0 {
		return fmt.Errorf("%w: winning rank %d", ErrInvalidArgument, rank)
	}
	room, err := m.configurable(ctx, roomID, false)
	if err != nil {
		return err
	}
	room.mu.Lock()
	room.sim.SetWinningRank(rank)
	room.mu.Unlock()

	status := store.StatusWaiting
	_, err = m.store.UpsertGameConfig(ctx, roomID, store.ConfigPatch{WinningRank: &rank, Status: &status})
	return err
}

func (m *Manager) SetMap(ctx context.Context, roomID int64, index int) error {
	if _, err := physics.StageByIndex(index); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	room, err := m.configurable(ctx, roomID, false)
	if err != nil {
		return err
	}
	room.mu.Lock()
	err = room.sim.SetStage(index)
	room.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	status := store.StatusWaiting
	_, err = m.store.UpsertGameConfig(ctx, roomID, store.ConfigPatch{MapIndex: &index, Status: &status})
	return err
}

// SetSpeed adjusts the simulation speed. Unlike the other setters it is
// legal while the game runs; only FINISHED blocks it.
func (m *Manager) SetSpeed(ctx context.Context, roomID int64, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("%w: speed %v", ErrInvalidArgument, speed)
	}
	room, err := m.configurable(ctx, roomID, true)
	if err != nil {
		return err
	}
	room.mu.Lock()
	room.sim.SetSpeed(speed)
	room.mu.Unlock()

	_, err = m.store.UpsertGameConfig(ctx, roomID, store.ConfigPatch{Speed: &speed})
	return err
}

// ResetGame clears the in-memory run state and, in one transaction, marks
// the persisted game WAITING and deletes its rankings. Idempotent.
func (m *Manager) ResetGame(ctx context.Context, roomID int64) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	m.stopLoop(room)
	room.mu.Lock()
	room.sim.Reset()
	room.running = false
	room.mu.Unlock()

	return m.store.ResetGame(ctx, roomID)
}

// Snapshot returns the current broadcast state of a room.
func (m *Manager) Snapshot(roomID int64) (sim.Snapshot, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return sim.Snapshot{}, err
	}
	return room.Snapshot(), nil
}

// evict tears one room down: loop stopped first, then the simulation and
// its physics resources released.
func (m *Manager) evict(room *Room) {
	m.mu.Lock()
	delete(m.rooms, room.ID)
	m.mu.Unlock()

	m.stopLoop(room)
	room.mu.Lock()
	room.sim.Destroy()
	room.mu.Unlock()
	m.log.Info().Int64("room", room.ID).Msg("room evicted")
}

// Shutdown stops every loop and destroys every simulation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.rooms = make(map[int64]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		m.stopLoop(room)
		room.mu.Lock()
		room.sim.Destroy()
		room.mu.Unlock()
	}
}
