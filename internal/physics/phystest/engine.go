// Package phystest provides an in-process Engine double for simulation and
// session tests. Marbles fall at a constant scripted velocity instead of
// being solved, so tests can stage goal crossings deterministically.
package phystest

import (
	"math"

	"github.com/kments/marblerace-backend/internal/physics"
)

type fakeMarble struct {
	pos     physics.Position
	vel     physics.Vec
	dummy   bool
	inWorld bool
}

// Engine implements physics.Engine with scripted kinematics.
type Engine struct {
	InitErr error

	marbles map[int]*fakeMarble
	stage   *physics.Stage
	started bool

	// Impulses records every radial impulse application for assertions.
	Impulses []RadialImpulse
	// Shaken records marble ids passed to ShakeMarble.
	Shaken []int

	StepCount int
	Stepped   float64
	destroyed bool
}

type RadialImpulse struct {
	Center physics.Vec
	Radius float64
	Force  float64
}

func New() *Engine { return &Engine{} }

func (e *Engine) Init() error {
	if e.InitErr != nil {
		return e.InitErr
	}
	e.marbles = make(map[int]*fakeMarble)
	return nil
}

func (e *Engine) CreateStage(stage *physics.Stage) error {
	e.stage = stage
	return nil
}

func (e *Engine) ClearEntities() { e.stage = nil }

func (e *Engine) ClearMarbles() {
	e.marbles = make(map[int]*fakeMarble)
	e.started = false
}

func (e *Engine) Clear() {
	e.ClearEntities()
	e.ClearMarbles()
}

func (e *Engine) CreateMarble(id int, x, y float64, opts physics.MarbleOptions) {
	e.marbles[id] = &fakeMarble{
		pos:     physics.Position{X: x, Y: y},
		vel:     opts.InitialVelocity,
		dummy:   opts.IsDummy,
		inWorld: opts.IsDummy || e.started,
	}
}

func (e *Engine) RemoveMarble(id int) { delete(e.marbles, id) }

func (e *Engine) MarblePosition(id int) physics.Position {
	m, ok := e.marbles[id]
	if !ok {
		return physics.Position{}
	}
	return m.pos
}

func (e *Engine) ShakeMarble(id int) { e.Shaken = append(e.Shaken, id) }

func (e *Engine) ApplyRadialImpulse(center physics.Vec, radius, force float64) {
	e.Impulses = append(e.Impulses, RadialImpulse{Center: center, Radius: radius, Force: force})
	for _, m := range e.marbles {
		if !m.inWorld {
			continue
		}
		dx, dy := m.pos.X-center.X, m.pos.Y-center.Y
		dist := math.Hypot(dx, dy)
		if dist >= radius || dist < 1e-9 {
			continue
		}
		scale := force * (1 - dist/radius)
		m.vel.X += dx / dist * scale
		m.vel.Y += dy / dist * scale
	}
}

func (e *Engine) Start() {
	e.started = true
	for _, m := range e.marbles {
		m.inWorld = true
	}
}

func (e *Engine) Step(dt float64) {
	e.StepCount++
	e.Stepped += dt
	for _, m := range e.marbles {
		if !m.inWorld {
			continue
		}
		m.pos.X += m.vel.X * dt
		m.pos.Y += m.vel.Y * dt
	}
}

func (e *Engine) Entities() []physics.EntityState { return nil }

func (e *Engine) Destroy() {
	e.destroyed = true
	e.marbles = nil
}

// Destroyed reports whether Destroy has been called.
func (e *Engine) Destroyed() bool { return e.destroyed }

// SetVelocity scripts a marble's fall speed.
func (e *Engine) SetVelocity(id int, vx, vy float64) {
	if m, ok := e.marbles[id]; ok {
		m.vel = physics.Vec{X: vx, Y: vy}
	}
}

// Teleport places a marble at the given position.
func (e *Engine) Teleport(id int, x, y float64) {
	if m, ok := e.marbles[id]; ok {
		m.pos.X, m.pos.Y = x, y
	}
}

// Has reports whether the engine still tracks the marble.
func (e *Engine) Has(id int) bool {
	_, ok := e.marbles[id]
	return ok
}
