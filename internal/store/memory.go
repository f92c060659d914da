package store

import (
	"context"
	"sync"
)

// Memory is a mutex-guarded in-memory Store used for local runs without a
// database and throughout the session tests.
type Memory struct {
	mu       sync.Mutex
	configs  map[int64]*GameConfig
	rankings map[int64][]Ranking
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		configs:  make(map[int64]*GameConfig),
		rankings: make(map[int64][]Ranking),
	}
}

func cloneConfig(cfg *GameConfig) *GameConfig {
	out := *cfg
	out.MarbleNames = append([]string(nil), cfg.MarbleNames...)
	return &out
}

func (m *Memory) LoadGameConfig(_ context.Context, roomID int64) (*GameConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[roomID]
	if !ok {
		return nil, nil
	}
	return cloneConfig(cfg), nil
}

func (m *Memory) UpsertGameConfig(_ context.Context, roomID int64, patch ConfigPatch) (*GameConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[roomID]
	if !ok {
		cfg = &GameConfig{RoomID: roomID, Speed: 1, Status: StatusWaiting}
		m.configs[roomID] = cfg
	}
	if patch.MapIndex != nil {
		cfg.MapIndex = *patch.MapIndex
	}
	if patch.MarbleNames != nil {
		cfg.MarbleNames = append([]string(nil), patch.MarbleNames...)
	}
	if patch.WinningRank != nil {
		cfg.WinningRank = *patch.WinningRank
	}
	if patch.Speed != nil {
		cfg.Speed = *patch.Speed
	}
	if patch.Status != nil {
		cfg.Status = *patch.Status
	}
	return cloneConfig(cfg), nil
}

func (m *Memory) UpdateStatus(_ context.Context, roomID int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[roomID]; ok {
		cfg.Status = status
	}
	return nil
}

func (m *Memory) FinishGame(_ context.Context, roomID int64, rows []Ranking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[roomID]
	if !ok {
		cfg = &GameConfig{RoomID: roomID, Speed: 1}
		m.configs[roomID] = cfg
	}
	cfg.Status = StatusFinished
	m.rankings[roomID] = append([]Ranking(nil), rows...)
	return nil
}

func (m *Memory) ResetGame(_ context.Context, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[roomID]; ok {
		cfg.Status = StatusWaiting
	}
	delete(m.rankings, roomID)
	return nil
}

func (m *Memory) DeleteGameConfig(_ context.Context, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, roomID)
	delete(m.rankings, roomID)
	return nil
}

// Rankings returns the persisted standings for a room. Test helper.
func (m *Memory) Rankings(roomID int64) []Ranking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ranking(nil), m.rankings[roomID]...)
}
