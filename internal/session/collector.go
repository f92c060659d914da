package session

import (
	"context"
	"time"
)

// collectInterval is the idle-room collector period.
const collectInterval = 10 * time.Second

// RunCollector periodically evicts idle rooms until ctx is done. A room is
// idle when it is not running and its transport channel has no live
// members; running rooms are never evicted.
func (m *Manager) RunCollector(ctx context.Context) {
	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectOnce()
		}
	}
}

// collectOnce runs one collector cycle. Reentrancy-guarded: if a prior
// cycle is still going, this one is skipped.
func (m *Manager) collectOnce() {
	if !m.collecting.CompareAndSwap(false, true) {
		m.log.Debug().Msg("collector still busy, skipping cycle")
		return
	}
	defer m.collecting.Store(false)

	if m.presence == nil {
		return
	}

	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	for _, room := range rooms {
		if room.Running() {
			continue
		}
		if m.presence.MemberCount(room.ID) > 0 {
			continue
		}
		m.evict(room)
	}
}
