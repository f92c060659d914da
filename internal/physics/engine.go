package physics

import "errors"

// ErrEngineInit is returned when a physics backend cannot be constructed.
var ErrEngineInit = errors.New("physics: engine init failed")

// Vec is a 2D point or direction in world units.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position is the transform of a body. The zero value means "absent".
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

type EntityShape string

const (
	ShapeBox      EntityShape = "box"
	ShapeCircle   EntityShape = "circle"
	ShapePolyline EntityShape = "polyline"
)

// EntityState is a render snapshot of one stage entity.
type EntityState struct {
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Angle  float64     `json:"angle"`
	Shape  EntityShape `json:"shape"`
	Width  float64     `json:"width,omitempty"`
	Height float64     `json:"height,omitempty"`
	Radius float64     `json:"radius,omitempty"`
	Points []Vec       `json:"points,omitempty"`
	Life   int         `json:"life"`
}

// MarbleOptions tunes how a marble body enters the world.
type MarbleOptions struct {
	IsDummy bool
	// InitialVelocity is applied on creation. Only meaningful for dummies,
	// which enter the world live; regular marbles stay inert until Start.
	InitialVelocity Vec
}

// Engine is the capability set the simulation requires from a physics
// backend. Calls that reference an absent body are no-ops (or return the
// zero value) so per-step processing stays resilient to already-removed
// marbles.
type Engine interface {
	// Init prepares the world. The engine is unusable before Init returns
	// nil. A failed construction wraps ErrEngineInit.
	Init() error

	// CreateStage instantiates all static/kinematic entities of the stage.
	// Idempotent only after ClearEntities.
	CreateStage(stage *Stage) error
	ClearEntities()
	ClearMarbles()
	// Clear removes both entities and marbles.
	Clear()

	// CreateMarble adds one dynamic circular body. Non-dummy marbles are
	// created inert and only enter the world on Start.
	CreateMarble(id int, x, y float64, opts MarbleOptions)
	RemoveMarble(id int)
	MarblePosition(id int) Position
	// ShakeMarble applies a small random impulse to un-stick a marble.
	ShakeMarble(id int)
	// ApplyRadialImpulse pushes every marble within radius of center away
	// from it, scaled by 1 - distance/radius. A marble exactly at the
	// center is pushed in a random direction.
	ApplyRadialImpulse(center Vec, radius, force float64)

	// Start wakes all tracked marble bodies.
	Start()
	// Step advances the world by dt seconds. Each marble touch on a
	// breakable entity consumes one Life at the start of the next step;
	// the entity is removed when its Life reaches zero.
	Step(dt float64)

	Entities() []EntityState

	// Destroy releases all backend resources. The engine is unusable
	// afterwards.
	Destroy()
}
