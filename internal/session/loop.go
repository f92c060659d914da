package session

import (
	"context"
	"sync"
	"time"
)

// tickRate is the fixed broadcast/update frequency per running room.
const tickRate = 60

type gameLoop struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// Stop is idempotent; stopping an already-stopped loop is a no-op.
func (l *gameLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// startLoop schedules the room's fixed-rate driver. At most one loop runs
// per room id; starting a second is a no-op with a warning.
func (m *Manager) startLoop(room *Room) {
	room.mu.Lock()
	if room.loop != nil {
		room.mu.Unlock()
		m.log.Warn().Int64("room", room.ID).Msg("loop already running")
		return
	}
	loop := &gameLoop{stop: make(chan struct{})}
	room.loop = loop
	room.mu.Unlock()

	go m.runLoop(room, loop)
}

func (m *Manager) stopLoop(room *Room) {
	room.mu.Lock()
	loop := room.loop
	room.loop = nil
	room.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

// runLoop ticks the room's simulation, broadcasts the resulting snapshot
// and finalizes the game when the simulation reports it is over. A panic
// inside a tick stops this room's loop instead of crashing the process.
func (m *Manager) runLoop(room *Room, loop *gameLoop) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Int64("room", room.ID).Interface("panic", r).Msg("loop tick panicked, stopping")
			m.stopLoop(room)
		}
	}()

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-loop.stop:
			return
		case <-ticker.C:
			if m.tick(room) {
				m.stopLoop(room)
				return
			}
		}
	}
}

// tick runs one frame; it reports true once the loop should tear down.
func (m *Manager) tick(room *Room) (done bool) {
	room.mu.Lock()
	if room.running {
		room.sim.Update()
		room.sim.ShakeStuck()
	}
	wasRunning := room.running
	snap := room.sim.Snapshot()
	room.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast.Broadcast(room.ID, "state", snap)
	}
	if !wasRunning || snap.IsRunning {
		return false
	}

	// The simulation decided a winner. Persist the end transactionally; if
	// the store round-trip fails the room stays "ending" and the next tick
	// retries instead of silently finalizing.
	if err := m.finalizeGame(context.Background(), room); err != nil {
		m.log.Error().Err(err).Int64("room", room.ID).Msg("finalize failed, will retry")
		return false
	}
	if m.broadcast != nil {
		room.mu.Lock()
		ranking := room.sim.FinalRanking()
		room.mu.Unlock()
		m.broadcast.Broadcast(room.ID, "finished", ranking)
	}
	return true
}
