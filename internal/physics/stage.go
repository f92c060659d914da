package physics

import "fmt"

// EntityDef describes one static or kinematic stage entity. Boxes with a
// non-zero AngularVelocity become kinematic spinners; a positive Life marks
// the entity breakable on marble contact.
type EntityDef struct {
	Shape           EntityShape
	X, Y            float64
	Width, Height   float64 // box
	Radius          float64 // circle
	Points          []Vec   // polyline, absolute world coordinates
	Angle           float64
	AngularVelocity float64
	Life            int
	Elasticity      float64
	Friction        float64
}

// Stage is an immutable map definition. Y grows downwards: marbles spawn
// near SpawnY and fall toward GoalY. ZoomY is the camera-focus line used
// only for pacing.
type Stage struct {
	Title  string
	GoalY  float64
	ZoomY  float64
	SpawnX float64
	SpawnY float64
	// SpawnWidth spreads the starting lineup horizontally.
	SpawnWidth float64
	Entities   []EntityDef
}

func wall(points ...Vec) EntityDef {
	return EntityDef{Shape: ShapePolyline, Points: points, Elasticity: 0.2, Friction: 0.6}
}

func bumper(x, y, r float64) EntityDef {
	return EntityDef{Shape: ShapeCircle, X: x, Y: y, Radius: r, Elasticity: 1.1, Friction: 0.1}
}

func spinner(x, y, w, h, angular float64) EntityDef {
	return EntityDef{Shape: ShapeBox, X: x, Y: y, Width: w, Height: h, AngularVelocity: angular, Elasticity: 0.3, Friction: 0.4}
}

func brick(x, y, w, h float64) EntityDef {
	return EntityDef{Shape: ShapeBox, X: x, Y: y, Width: w, Height: h, Life: 1, Elasticity: 0.1, Friction: 0.8}
}

// stages is the fixed map catalog. Index 0 is the default.
var stages = []*Stage{
	{
		Title:      "Funnel Run",
		GoalY:      42,
		ZoomY:      39,
		SpawnX:     7.5,
		SpawnY:     1,
		SpawnWidth: 13,
		Entities: []EntityDef{
			// outer walls funneling into the goal chute
			wall(Vec{0, 0}, Vec{0, 30}, Vec{5.5, 36}, Vec{5.5, 43}),
			wall(Vec{15, 0}, Vec{15, 30}, Vec{9.5, 36}, Vec{9.5, 43}),
			// staggered pegs
			bumper(3, 8, 0.4), bumper(7.5, 8, 0.4), bumper(12, 8, 0.4),
			bumper(5.25, 12, 0.4), bumper(9.75, 12, 0.4),
			bumper(3, 16, 0.4), bumper(7.5, 16, 0.4), bumper(12, 16, 0.4),
			bumper(5.25, 20, 0.4), bumper(9.75, 20, 0.4),
			// spinners stirring the pack mid-stage
			spinner(4.5, 25, 3.5, 0.4, 2.2),
			spinner(10.5, 28, 3.5, 0.4, -2.2),
			// breakable plug before the chute
			brick(7.5, 33.5, 2.4, 0.5),
		},
	},
	{
		Title:      "Zigzag Drop",
		GoalY:      50,
		ZoomY:      46,
		SpawnX:     6,
		SpawnY:     1,
		SpawnWidth: 10,
		Entities: []EntityDef{
			wall(Vec{0, 0}, Vec{0, 51}),
			wall(Vec{12, 0}, Vec{12, 51}),
			// alternating shelves
			wall(Vec{0, 10}, Vec{9, 12}),
			wall(Vec{12, 18}, Vec{3, 20}),
			wall(Vec{0, 26}, Vec{9, 28}),
			wall(Vec{12, 34}, Vec{3, 36}),
			spinner(6, 40, 4, 0.4, 3.0),
			bumper(3, 44, 0.5), bumper(9, 44, 0.5),
			brick(4.5, 31, 1.8, 0.5), brick(7.5, 15, 1.8, 0.5),
		},
	},
}

// StageCount reports how many maps the catalog holds.
func StageCount() int { return len(stages) }

// StageByIndex returns the catalog entry for index, or an error when the
// index is out of range.
func StageByIndex(index int) (*Stage, error) {
	if index < 0 || index >= len(stages) {
		return nil, fmt.Errorf("stage index %d out of range [0,%d)", index, len(stages))
	}
	return stages[index], nil
}

// StageTitles lists the catalog titles in index order.
func StageTitles() []string {
	titles := make([]string, len(stages))
	for i, s := range stages {
		titles[i] = s.Title
	}
	return titles
}
