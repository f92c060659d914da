package physics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/jakecoffman/cp"
	"github.com/rs/zerolog"
)

const (
	gravityY     = 10.0
	marbleRadius = 0.25
	marbleMass   = 1.0
	shakeForce   = 2.0

	collisionMarble cp.CollisionType = 1
	collisionEntity cp.CollisionType = 2
)

type cpMarble struct {
	id    int
	dummy bool
	body  *cp.Body
	shape *cp.Shape
	// spawn holds the transform of an inert marble that has not entered
	// the space yet.
	spawn   Position
	inSpace bool
}

type cpEntity struct {
	def     EntityDef
	body    *cp.Body
	shapes  []*cp.Shape
	ownBody bool
	life    int
	touched bool
}

// Chipmunk adapts the Chipmunk2D rigid-body solver (jakecoffman/cp) to the
// Engine capability set. It is the only package touching cp types.
type Chipmunk struct {
	log      zerolog.Logger
	space    *cp.Space
	marbles  map[int]*cpMarble
	entities []*cpEntity
	rng      *rand.Rand
	started  bool
}

var _ Engine = (*Chipmunk)(nil)

func NewChipmunk(log zerolog.Logger) *Chipmunk {
	return &Chipmunk{
		log: log.With().Str("component", "physics").Logger(),
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

func (c *Chipmunk) Init() error {
	if c.space != nil {
		return fmt.Errorf("%w: already initialized", ErrEngineInit)
	}
	space := cp.NewSpace()
	space.Iterations = 10
	space.SetGravity(cp.Vector{X: 0, Y: gravityY})

	c.space = space
	c.marbles = make(map[int]*cpMarble)
	c.entities = nil

	handler := space.NewCollisionHandler(collisionMarble, collisionEntity)
	handler.BeginFunc = func(arb *cp.Arbiter, _ *cp.Space, _ interface{}) bool {
		_, b := arb.Shapes()
		if ent, ok := b.UserData.(*cpEntity); ok && ent.life > 0 {
			ent.touched = true
		}
		return true
	}
	return nil
}

func (c *Chipmunk) CreateStage(stage *Stage) error {
	if c.space == nil {
		return fmt.Errorf("%w: no space", ErrEngineInit)
	}
	for _, def := range stage.Entities {
		ent := &cpEntity{def: def, life: def.Life}
		switch def.Shape {
		case ShapePolyline:
			ent.body = c.space.StaticBody
			for i := 0; i+1 < len(def.Points); i++ {
				a := cp.Vector{X: def.Points[i].X, Y: def.Points[i].Y}
				b := cp.Vector{X: def.Points[i+1].X, Y: def.Points[i+1].Y}
				ent.shapes = append(ent.shapes, cp.NewSegment(c.space.StaticBody, a, b, 0.05))
			}
		case ShapeCircle:
			ent.body = c.space.StaticBody
			ent.shapes = append(ent.shapes, cp.NewCircle(c.space.StaticBody, def.Radius, cp.Vector{X: def.X, Y: def.Y}))
		case ShapeBox:
			// Boxes get their own kinematic body so spinners can rotate
			// and breakables can be removed without disturbing the shared
			// static body.
			body := c.space.AddBody(cp.NewKinematicBody())
			body.SetPosition(cp.Vector{X: def.X, Y: def.Y})
			body.SetAngle(def.Angle)
			body.SetAngularVelocity(def.AngularVelocity)
			ent.body = body
			ent.ownBody = true
			ent.shapes = append(ent.shapes, cp.NewBox(body, def.Width, def.Height, 0))
		default:
			return fmt.Errorf("unknown entity shape %q", def.Shape)
		}
		for _, shape := range ent.shapes {
			shape.SetElasticity(def.Elasticity)
			shape.SetFriction(def.Friction)
			shape.SetCollisionType(collisionEntity)
			shape.UserData = ent
			c.space.AddShape(shape)
		}
		c.entities = append(c.entities, ent)
	}
	return nil
}

func (c *Chipmunk) removeEntity(ent *cpEntity) {
	for _, shape := range ent.shapes {
		c.space.RemoveShape(shape)
	}
	if ent.ownBody {
		c.space.RemoveBody(ent.body)
	}
}

func (c *Chipmunk) ClearEntities() {
	if c.space == nil {
		return
	}
	for _, ent := range c.entities {
		c.removeEntity(ent)
	}
	c.entities = nil
}

func (c *Chipmunk) ClearMarbles() {
	if c.space == nil {
		return
	}
	for id := range c.marbles {
		c.RemoveMarble(id)
	}
	c.started = false
}

func (c *Chipmunk) Clear() {
	c.ClearEntities()
	c.ClearMarbles()
}

func (c *Chipmunk) CreateMarble(id int, x, y float64, opts MarbleOptions) {
	if c.space == nil {
		return
	}
	m := &cpMarble{
		id:    id,
		dummy: opts.IsDummy,
		spawn: Position{X: x, Y: y},
	}
	c.marbles[id] = m
	if opts.IsDummy || c.started {
		c.enterSpace(m, opts.InitialVelocity)
	}
}

func (c *Chipmunk) enterSpace(m *cpMarble, vel Vec) {
	moment := cp.MomentForCircle(marbleMass, 0, marbleRadius, cp.Vector{})
	body := c.space.AddBody(cp.NewBody(marbleMass, moment))
	body.SetPosition(cp.Vector{X: m.spawn.X, Y: m.spawn.Y})
	body.SetVelocity(vel.X, vel.Y)

	shape := c.space.AddShape(cp.NewCircle(body, marbleRadius, cp.Vector{}))
	shape.SetElasticity(0.4)
	shape.SetFriction(0.3)
	shape.SetCollisionType(collisionMarble)

	m.body = body
	m.shape = shape
	m.inSpace = true
}

func (c *Chipmunk) RemoveMarble(id int) {
	m, ok := c.marbles[id]
	if !ok {
		return
	}
	if m.inSpace {
		c.space.RemoveShape(m.shape)
		c.space.RemoveBody(m.body)
	}
	delete(c.marbles, id)
}

func (c *Chipmunk) MarblePosition(id int) Position {
	m, ok := c.marbles[id]
	if !ok {
		return Position{}
	}
	if !m.inSpace {
		return m.spawn
	}
	pos := m.body.Position()
	return Position{X: pos.X, Y: pos.Y, Angle: m.body.Angle()}
}

func (c *Chipmunk) ShakeMarble(id int) {
	m, ok := c.marbles[id]
	if !ok || !m.inSpace {
		return
	}
	angle := c.rng.Float64() * 2 * math.Pi
	impulse := cp.Vector{X: math.Cos(angle) * shakeForce, Y: -math.Abs(math.Sin(angle)) * shakeForce}
	m.body.ApplyImpulseAtWorldPoint(impulse, m.body.Position())
}

func (c *Chipmunk) ApplyRadialImpulse(center Vec, radius, force float64) {
	for _, m := range c.marbles {
		if !m.inSpace {
			continue
		}
		pos := m.body.Position()
		dx, dy := pos.X-center.X, pos.Y-center.Y
		dist := math.Hypot(dx, dy)
		if dist >= radius {
			continue
		}
		magnitude := force * (1 - dist/radius)
		var dir cp.Vector
		if dist < 1e-9 {
			angle := c.rng.Float64() * 2 * math.Pi
			dir = cp.Vector{X: math.Cos(angle), Y: math.Sin(angle)}
		} else {
			dir = cp.Vector{X: dx / dist, Y: dy / dist}
		}
		m.body.ApplyImpulseAtWorldPoint(dir.Mult(magnitude), pos)
	}
}

func (c *Chipmunk) Start() {
	if c.space == nil || c.started {
		return
	}
	c.started = true
	for _, m := range c.marbles {
		if !m.inSpace {
			c.enterSpace(m, Vec{})
		}
	}
}

func (c *Chipmunk) Step(dt float64) {
	if c.space == nil {
		return
	}
	// Breakables marked during the previous step come out before the world
	// advances again, so the contact frame is still rendered once.
	if len(c.entities) > 0 {
		kept := c.entities[:0]
		for _, ent := range c.entities {
			if ent.touched {
				ent.touched = false
				ent.life--
				if ent.life <= 0 {
					c.removeEntity(ent)
					continue
				}
			}
			kept = append(kept, ent)
		}
		c.entities = kept
	}
	c.space.Step(dt)
}

func (c *Chipmunk) Entities() []EntityState {
	states := make([]EntityState, 0, len(c.entities))
	for _, ent := range c.entities {
		st := EntityState{
			Shape:  ent.def.Shape,
			Width:  ent.def.Width,
			Height: ent.def.Height,
			Radius: ent.def.Radius,
			Points: ent.def.Points,
			Life:   ent.life,
		}
		if ent.ownBody {
			pos := ent.body.Position()
			st.X, st.Y, st.Angle = pos.X, pos.Y, ent.body.Angle()
		} else {
			st.X, st.Y = ent.def.X, ent.def.Y
		}
		states = append(states, st)
	}
	return states
}

func (c *Chipmunk) Destroy() {
	if c.space == nil {
		return
	}
	c.Clear()
	c.space = nil
	c.marbles = nil
	c.log.Debug().Msg("physics space destroyed")
}
