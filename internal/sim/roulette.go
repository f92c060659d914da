package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/physics"
)

const (
	// updateInterval is the fixed sub-step the wall-clock accumulator
	// consumes; maxAccumulate clamps runaway accumulation after stalls.
	updateInterval = 10 * time.Millisecond
	maxAccumulate  = 100 * time.Millisecond

	// removeDelay keeps a finished marble in the world for a final render
	// frame before its body is released.
	removeDelay = 500 * time.Millisecond

	// zoomThreshold is how close (world units) the decisive marble must be
	// to the stage's focus line before the simulation slows down for
	// viewers; minTimeScale bounds that slowdown.
	zoomThreshold = 5.0
	minTimeScale  = 0.2

	stuckThresholdSq = 1e-4
	stuckShakeAfter  = 3.0 // seconds

	impactRadius = 5.0
	impactForce  = 10.0

	dummyDropSpeed = 3.0
)

type pendingRemoval struct {
	id  int
	due time.Time
}

// Roulette drives one marble race over a physics engine: racer roster,
// fixed-step advancement, rank and winner bookkeeping, and the one-shot
// skill-effect log. It is not safe for concurrent use; callers serialize
// access per room.
type Roulette struct {
	log    zerolog.Logger
	engine physics.Engine
	rng    *rand.Rand
	now    func() time.Time

	stage    *physics.Stage
	mapIndex int
	names    []string
	roster   []rosterEntry

	marbles []*Marble // still racing, creation order
	winners []*Marble // finish order
	winner  *Marble

	winnerRank int
	total      int
	speed      float64
	running    bool

	acc      time.Duration
	last     time.Time
	removals []pendingRemoval

	effects      []SkillEffect
	nextEffectID int64
	nextDummyID  int
}

// New initializes the engine, loads the default stage and returns a race in
// the not-started state.
func New(engine physics.Engine, log zerolog.Logger) (*Roulette, error) {
	r := &Roulette{
		log:    log.With().Str("component", "sim").Logger(),
		engine: engine,
		rng:    rand.New(rand.NewSource(rand.Int63())),
		now:    time.Now,
		speed:  1,
	}
	if err := engine.Init(); err != nil {
		return nil, err
	}
	if err := r.SetStage(0); err != nil {
		return nil, err
	}
	return r, nil
}

// SetStage swaps the map and restarts the current roster on it.
func (r *Roulette) SetStage(index int) error {
	stage, err := physics.StageByIndex(index)
	if err != nil {
		return err
	}
	r.engine.ClearEntities()
	if err := r.engine.CreateStage(stage); err != nil {
		return err
	}
	r.stage = stage
	r.mapIndex = index
	r.Reset()
	return nil
}

// SetMarbles replaces the roster from raw `name[/weight][*count]` entries.
// The race is implicitly reset first.
func (r *Roulette) SetMarbles(names []string) {
	r.names = append([]string(nil), names...)
	r.roster = buildRoster(names, r.rng)
	r.total = len(r.roster)
	r.Reset()
}

// SetWinningRank stores the 0-indexed target rank; it is clamped against
// the roster size at Start.
func (r *Roulette) SetWinningRank(rank int) {
	r.winnerRank = rank
}

func (r *Roulette) SetSpeed(speed float64) {
	if speed > 0 {
		r.speed = speed
	}
}

// Reset returns the race to the not-started state and respawns the roster.
func (r *Roulette) Reset() {
	r.running = false
	r.winner = nil
	r.winners = nil
	r.acc = 0
	r.last = time.Time{}
	r.removals = nil
	r.effects = nil
	r.nextDummyID = r.total

	r.engine.ClearMarbles()
	r.marbles = make([]*Marble, 0, len(r.roster))
	for _, entry := range r.roster {
		x, y := r.spawnPoint(entry.id)
		r.engine.CreateMarble(entry.id, x, y, physics.MarbleOptions{})
		r.marbles = append(r.marbles, &Marble{
			ID:       entry.id,
			Name:     entry.name,
			Weight:   entry.weight,
			Position: physics.Position{X: x, Y: y},
			lastPos:  physics.Position{X: x, Y: y},
		})
	}
}

// spawnPoint arranges the lineup in rows across the stage spawn area,
// slotted by racer id. Ids are pre-shuffled, so lineup order is already
// decorrelated from input order.
func (r *Roulette) spawnPoint(id int) (float64, float64) {
	cols := int(r.stage.SpawnWidth / 1.0)
	if cols < 1 {
		cols = 1
	}
	col := id % cols
	row := id / cols
	x := r.stage.SpawnX - r.stage.SpawnWidth/2 + (float64(col)+0.5)*r.stage.SpawnWidth/float64(cols)
	y := r.stage.SpawnY + float64(row)*0.8
	return x, y
}

// Start transitions to running: the winning rank is clamped to the roster,
// bodies wake and all racers activate.
func (r *Roulette) Start() {
	if r.running {
		return
	}
	if r.winnerRank < 0 {
		r.winnerRank = 0
	}
	if r.total > 0 && r.winnerRank > r.total-1 {
		r.winnerRank = r.total - 1
	}
	if r.total == 0 {
		r.winnerRank = 0
	}
	r.engine.Start()
	for _, m := range r.marbles {
		m.Active = true
	}
	r.running = true
	r.last = time.Time{}
	r.log.Info().Int("racers", r.total).Int("winnerRank", r.winnerRank).Msg("race started")
}

func (r *Roulette) IsRunning() bool { return r.running }

// Update advances the race by the wall-clock time since the previous call,
// scaled by the speed multiplier and consumed in fixed sub-steps.
func (r *Roulette) Update() {
	if r.stage == nil {
		return
	}
	now := r.now()
	// Deferred body removals keep draining after the race has been decided.
	defer r.processRemovals(now)
	if !r.running {
		return
	}
	if r.last.IsZero() {
		r.last = now
	}
	r.acc += time.Duration(float64(now.Sub(r.last)) * r.speed)
	r.last = now
	if r.acc > maxAccumulate {
		r.acc = maxAccumulate
	}
	for r.acc >= updateInterval && r.running {
		r.acc -= updateInterval
		r.engine.Step(updateInterval.Seconds() * r.timeScale())
		r.step(now)
	}
}

// step refreshes racer transforms, advances stuck timers and settles goal
// crossings. Simultaneous crossers are processed by ascending id so the
// rank credited in a tie is deterministic.
func (r *Roulette) step(now time.Time) {
	var crossed []*Marble
	for _, m := range r.marbles {
		pos := r.engine.MarblePosition(m.ID)
		if m.Active {
			dx, dy := pos.X-m.lastPos.X, pos.Y-m.lastPos.Y
			if dx*dx+dy*dy < stuckThresholdSq {
				m.stuckFor += updateInterval.Seconds()
			} else {
				m.stuckFor = 0
			}
		}
		m.lastPos = m.Position
		m.Position = pos
		if pos.Y > r.stage.GoalY {
			crossed = append(crossed, m)
		}
	}
	if len(crossed) == 0 {
		return
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].ID < crossed[j].ID })
	for _, m := range crossed {
		r.finish(m, now)
	}
}

func (r *Roulette) finish(m *Marble, now time.Time) {
	m.finished = true
	m.Active = false
	for i, cur := range r.marbles {
		if cur == m {
			r.marbles = append(r.marbles[:i], r.marbles[i+1:]...)
			break
		}
	}
	// The body lingers half a second so the crossing frame still renders.
	r.removals = append(r.removals, pendingRemoval{id: m.ID, due: now.Add(removeDelay)})
	if m.IsDummy {
		return
	}
	r.winners = append(r.winners, m)
	r.evaluateWinner(m)
}

// evaluateWinner applies the winner rules on every finish event. Once the
// race stops, winner is non-nil whenever the roster was non-empty.
func (r *Roulette) evaluateWinner(justFinished *Marble) {
	if r.winner != nil || !r.running {
		return
	}
	switch {
	case r.winnerRank < r.total-1 && len(r.winners) == r.winnerRank+1:
		r.declareWinner(justFinished)
	case r.winnerRank == r.total-1 && len(r.winners) == r.total-1:
		// Last place wins: the single racer still on the track takes it
		// before ever crossing the line.
		if last := r.lastRemaining(); last != nil {
			r.declareWinner(last)
		}
	case len(r.winners) == r.total:
		// Every open slot got consumed by simultaneous finishes; credit
		// the configured rank among the finishers.
		r.declareWinner(r.winners[r.winnerRank])
	}
}

func (r *Roulette) declareWinner(m *Marble) {
	r.winner = m
	r.running = false
	r.log.Info().Int("id", m.ID).Str("name", m.Name).Int("rank", r.winnerRank).Msg("winner decided")
}

func (r *Roulette) lastRemaining() *Marble {
	for _, m := range r.marbles {
		if !m.IsDummy {
			return m
		}
	}
	return nil
}

func (r *Roulette) processRemovals(now time.Time) {
	kept := r.removals[:0]
	for _, rm := range r.removals {
		if now.Before(rm.due) {
			kept = append(kept, rm)
			continue
		}
		r.engine.RemoveMarble(rm.id)
	}
	r.removals = kept
}

// timeScale slows the physics step while the racer that would occupy the
// winning rank approaches the stage's focus line. Pure pacing; wall time is
// unaffected.
func (r *Roulette) timeScale() float64 {
	if r.winner != nil {
		return 1
	}
	target := r.targetMarble()
	if target == nil {
		return 1
	}
	dist := r.stage.ZoomY - target.Position.Y
	if dist <= 0 || dist > zoomThreshold {
		return 1
	}
	scale := dist / zoomThreshold
	if scale < minTimeScale {
		scale = minTimeScale
	}
	return scale
}

// targetMarble picks the active racer currently projected to take the
// winning rank, ordered by progress toward the goal.
func (r *Roulette) targetMarble() *Marble {
	idx := r.winnerRank - len(r.winners)
	if idx < 0 {
		return nil
	}
	actives := make([]*Marble, 0, len(r.marbles))
	for _, m := range r.marbles {
		if !m.IsDummy && m.Active {
			actives = append(actives, m)
		}
	}
	if len(actives) == 0 {
		return nil
	}
	sort.Slice(actives, func(i, j int) bool { return actives[i].Position.Y > actives[j].Position.Y })
	if idx >= len(actives) {
		idx = len(actives) - 1
	}
	return actives[idx]
}

// ApplyImpact delegates a radial impulse to the engine and logs the effect
// for the next broadcast.
func (r *Roulette) ApplyImpact(x, y float64) {
	r.engine.ApplyRadialImpulse(physics.Vec{X: x, Y: y}, impactRadius, impactForce)
	r.nextEffectID++
	r.effects = append(r.effects, SkillEffect{
		ID:        r.nextEffectID,
		Type:      SkillImpact,
		X:         x,
		Y:         y,
		Radius:    impactRadius,
		Timestamp: r.now().UnixMilli(),
	})
}

// CreateDummyMarbles spawns decorative, non-winnable racers near the given
// point. Their ids are allocated above every existing id.
func (r *Roulette) CreateDummyMarbles(x, y float64, count int, ownerLabel string) {
	for i := 0; i < count; i++ {
		id := r.nextDummyID
		r.nextDummyID++
		px := x + (r.rng.Float64()-0.5)*0.8
		py := y + (r.rng.Float64()-0.5)*0.4
		r.engine.CreateMarble(id, px, py, physics.MarbleOptions{
			IsDummy:         true,
			InitialVelocity: physics.Vec{X: 0, Y: dummyDropSpeed},
		})
		r.marbles = append(r.marbles, &Marble{
			ID:       id,
			Name:     fmt.Sprintf("%s's marble", ownerLabel),
			Weight:   minWeight,
			IsDummy:  true,
			Active:   true,
			Position: physics.Position{X: px, Y: py},
			lastPos:  physics.Position{X: px, Y: py},
		})
	}
}

// ShakeStuck nudges racers that have not moved for a while and resets
// their stuck timers.
func (r *Roulette) ShakeStuck() {
	if !r.running {
		return
	}
	for _, m := range r.marbles {
		if m.Active && m.stuckFor >= stuckShakeAfter {
			r.engine.ShakeMarble(m.ID)
			m.stuckFor = 0
		}
	}
}

// Ranking is one row of the final standings.
type Ranking struct {
	Rank         int    `json:"rank"`
	MarbleID     int    `json:"marbleId"`
	Name         string `json:"name"`
	IsWinnerGoal bool   `json:"isWinnerGoal"`
}

// FinalRanking orders every non-dummy racer: finishers by finish order,
// then unfinished racers by progress toward the goal. Exactly one entry
// carries the winner flag.
func (r *Roulette) FinalRanking() []Ranking {
	rows := make([]Ranking, 0, r.total)
	for _, m := range r.winners {
		rows = append(rows, Ranking{MarbleID: m.ID, Name: m.Name})
	}
	var unfinished []*Marble
	for _, m := range r.marbles {
		if !m.IsDummy {
			unfinished = append(unfinished, m)
		}
	}
	sort.Slice(unfinished, func(i, j int) bool {
		if unfinished[i].Position.Y != unfinished[j].Position.Y {
			return unfinished[i].Position.Y > unfinished[j].Position.Y
		}
		return unfinished[i].ID < unfinished[j].ID
	})
	for _, m := range unfinished {
		rows = append(rows, Ranking{MarbleID: m.ID, Name: m.Name})
	}
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].IsWinnerGoal = r.winner != nil && rows[i].MarbleID == r.winner.ID
	}
	return rows
}

// Snapshot is the broadcast state shape. Reading one drains the pending
// skill-effect log.
type Snapshot struct {
	Racers          []MarbleState         `json:"racers"`
	Finished        []MarbleState         `json:"finished"`
	Winner          *MarbleState          `json:"winner"`
	Entities        []physics.EntityState `json:"entities"`
	IsRunning       bool                  `json:"isRunning"`
	WinnerRank      int                   `json:"winnerRank"`
	TotalRacerCount int                   `json:"totalRacerCount"`
	SkillEffects    []SkillEffect         `json:"skillEffects"`
}

func (r *Roulette) Snapshot() Snapshot {
	snap := Snapshot{
		Racers:          make([]MarbleState, 0, len(r.marbles)),
		Finished:        make([]MarbleState, 0, len(r.winners)),
		Entities:        r.engine.Entities(),
		IsRunning:       r.running,
		WinnerRank:      r.winnerRank,
		TotalRacerCount: r.total,
		SkillEffects:    r.effects,
	}
	r.effects = nil
	for _, m := range r.marbles {
		snap.Racers = append(snap.Racers, m.state())
	}
	for _, m := range r.winners {
		snap.Finished = append(snap.Finished, m.state())
	}
	if r.winner != nil {
		st := r.winner.state()
		snap.Winner = &st
	}
	return snap
}

// Accessors used when persisting a configuration snapshot.

func (r *Roulette) MapIndex() int    { return r.mapIndex }
func (r *Roulette) Names() []string  { return append([]string(nil), r.names...) }
func (r *Roulette) WinnerRank() int  { return r.winnerRank }
func (r *Roulette) Speed() float64   { return r.speed }
func (r *Roulette) TotalRacers() int { return r.total }

// Destroy releases the physics engine and all in-memory race state. The
// instance is unusable afterwards.
func (r *Roulette) Destroy() {
	r.running = false
	r.marbles = nil
	r.winners = nil
	r.winner = nil
	r.roster = nil
	r.engine.Destroy()
}
