package session

import (
	"sync"

	"github.com/kments/marblerace-backend/internal/sim"
)

// Room pairs a room id with its single live simulation. All simulation
// access goes through mu: loop ticks and inbound commands for the same room
// never interleave mid-mutation.
type Room struct {
	ID int64

	mu      sync.Mutex
	sim     *sim.Roulette
	running bool
	loop    *gameLoop
}

// Running reports the in-memory run flag.
func (r *Room) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Snapshot reads the current broadcast state under the room lock.
func (r *Room) Snapshot() sim.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.Snapshot()
}
