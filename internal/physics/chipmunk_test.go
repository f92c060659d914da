package physics

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Chipmunk {
	t.Helper()
	eng := NewChipmunk(zerolog.Nop())
	if err := eng.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(eng.Destroy)
	return eng
}

func TestInitTwiceFails(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Init(); err == nil {
		t.Fatal("second Init should fail")
	}
}

func TestMarbleInertUntilStart(t *testing.T) {
	eng := newTestEngine(t)
	eng.CreateMarble(0, 3, 1, MarbleOptions{})

	for i := 0; i < 50; i++ {
		eng.Step(0.01)
	}
	if pos := eng.MarblePosition(0); pos.X != 3 || pos.Y != 1 {
		t.Fatalf("marble moved before Start: %+v", pos)
	}

	eng.Start()
	for i := 0; i < 50; i++ {
		eng.Step(0.01)
	}
	if pos := eng.MarblePosition(0); pos.Y <= 1 {
		t.Fatalf("marble did not fall after Start: %+v", pos)
	}
}

func TestDummyMarbleFallsImmediately(t *testing.T) {
	eng := newTestEngine(t)
	eng.CreateMarble(5, 3, 1, MarbleOptions{IsDummy: true, InitialVelocity: Vec{X: 0, Y: 2}})

	eng.Step(0.1)
	if pos := eng.MarblePosition(5); pos.Y <= 1 {
		t.Fatalf("dummy marble did not fall without Start: %+v", pos)
	}
}

func TestRadialImpulseScalesWithDistance(t *testing.T) {
	eng := newTestEngine(t)
	eng.CreateMarble(0, 1, 0, MarbleOptions{}) // distance 1 from center
	eng.CreateMarble(1, 2, 0, MarbleOptions{}) // distance 2
	eng.CreateMarble(2, 9, 0, MarbleOptions{}) // outside radius
	eng.Start()

	eng.ApplyRadialImpulse(Vec{X: 0, Y: 0}, 4, 10)
	eng.Step(0.01)

	near := eng.MarblePosition(0).X - 1
	far := eng.MarblePosition(1).X - 2
	outside := eng.MarblePosition(2).X - 9

	if near <= 0 || far <= 0 {
		t.Fatalf("marbles in radius were not pushed: near=%v far=%v", near, far)
	}
	// force*(1-d/r): d=1 gives 7.5, d=2 gives 5.0 -> ratio 1.5
	if ratio := near / far; math.Abs(ratio-1.5) > 0.05 {
		t.Errorf("displacement ratio %v, want ~1.5", ratio)
	}
	if outside != 0 {
		t.Errorf("marble outside radius moved by %v", outside)
	}
}

func TestRemoveMarbleAbsentNoPanic(t *testing.T) {
	eng := newTestEngine(t)
	eng.RemoveMarble(42)
	eng.ShakeMarble(42)
	if pos := eng.MarblePosition(42); pos != (Position{}) {
		t.Fatalf("absent marble reported position %+v", pos)
	}
}

func TestBreakableBrickConsumesLife(t *testing.T) {
	eng := newTestEngine(t)
	stage := &Stage{
		Title: "brick test",
		GoalY: 20, ZoomY: 18, SpawnY: 0, SpawnX: 0, SpawnWidth: 1,
		Entities: []EntityDef{
			{Shape: ShapeBox, X: 0, Y: 3, Width: 4, Height: 0.5, Life: 1, Elasticity: 0.1, Friction: 0.8},
		},
	}
	if err := eng.CreateStage(stage); err != nil {
		t.Fatalf("CreateStage: %v", err)
	}
	if got := len(eng.Entities()); got != 1 {
		t.Fatalf("expected 1 entity, got %d", got)
	}

	// Drop a marble straight onto the brick.
	eng.CreateMarble(0, 0, 1, MarbleOptions{})
	eng.Start()
	for i := 0; i < 400; i++ {
		eng.Step(0.01)
		if len(eng.Entities()) == 0 {
			return
		}
	}
	t.Fatal("brick was never broken by contact")
}

func TestClearMarblesResetsStart(t *testing.T) {
	eng := newTestEngine(t)
	eng.CreateMarble(0, 0, 0, MarbleOptions{})
	eng.Start()
	eng.ClearMarbles()

	// After a clear the next roster must be inert again until Start.
	eng.CreateMarble(1, 2, 2, MarbleOptions{})
	eng.Step(0.1)
	if pos := eng.MarblePosition(1); pos.Y != 2 {
		t.Fatalf("marble active after ClearMarbles without Start: %+v", pos)
	}
}

func TestStageCatalogBuilds(t *testing.T) {
	for i := 0; i < StageCount(); i++ {
		eng := newTestEngine(t)
		stage, err := StageByIndex(i)
		if err != nil {
			t.Fatalf("StageByIndex(%d): %v", i, err)
		}
		if err := eng.CreateStage(stage); err != nil {
			t.Fatalf("CreateStage(%q): %v", stage.Title, err)
		}
		if got := len(eng.Entities()); got != len(stage.Entities) {
			t.Errorf("stage %q: %d entity states for %d defs", stage.Title, got, len(stage.Entities))
		}
		eng.Destroy()
	}
}
