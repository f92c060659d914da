package session

import (
	"fmt"

	"github.com/kments/marblerace-backend/internal/sim"
)

// dummySpawnCount is how many decorative marbles one dummy skill drops.
const dummySpawnCount = 5

// SkillRequest is one inbound skill invocation. Extra carries the
// kind-specific payload; privilege checks happen before dispatch.
type SkillRequest struct {
	Type   sim.SkillType
	X, Y   float64
	Caller string
	Extra  SkillExtra
}

// SkillExtra is the tagged payload union. Each skill kind owns a variant;
// dispatch matches exhaustively instead of casting blobs at runtime.
type SkillExtra interface{ skillExtra() }

// ImpactExtra is the payload of an impact skill. It is currently empty:
// radius and force are fixed server-side so clients cannot tune them.
type ImpactExtra struct{}

func (ImpactExtra) skillExtra() {}

// DummyExtra labels spawned marbles with the caller's display name.
type DummyExtra struct {
	Label string
}

func (DummyExtra) skillExtra() {}

// UseSkill validates the request against the room's simulation and invokes
// the matching effect. Effects surface through the simulation's one-shot
// effect log, drained by the next broadcast.
func (m *Manager) UseSkill(roomID int64, req SkillRequest) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	switch req.Type {
	case sim.SkillImpact:
		room.sim.ApplyImpact(req.X, req.Y)
	case sim.SkillDummy:
		label := req.Caller
		if extra, ok := req.Extra.(DummyExtra); ok && extra.Label != "" {
			label = extra.Label
		}
		// No explicit effect entry: the spawn shows up in the next
		// snapshot's racer list.
		room.sim.CreateDummyMarbles(req.X, req.Y, dummySpawnCount, label)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSkill, req.Type)
	}
	m.log.Debug().Int64("room", roomID).Str("skill", string(req.Type)).Str("caller", req.Caller).Msg("skill dispatched")
	return nil
}
