package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/physics"
	"github.com/kments/marblerace-backend/internal/physics/phystest"
	"github.com/kments/marblerace-backend/internal/store"
)

type engineFactory struct {
	mu      sync.Mutex
	engines []*phystest.Engine
}

func (f *engineFactory) new() physics.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	eng := phystest.New()
	f.engines = append(f.engines, eng)
	return eng
}

func (f *engineFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

type fakePresence struct {
	mu      sync.Mutex
	members map[int64]int
}

func (p *fakePresence) MemberCount(roomID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.members[roomID]
}

func (p *fakePresence) set(roomID int64, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[roomID] = n
}

type broadcastEvent struct {
	roomID int64
	event  string
}

type fakeBroadcast struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *fakeBroadcast) Broadcast(roomID int64, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{roomID: roomID, event: event})
}

func (b *fakeBroadcast) has(roomID int64, event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.roomID == roomID && e.event == event {
			return true
		}
	}
	return false
}

// flakyStore injects FinishGame failures on top of the memory store.
type flakyStore struct {
	*store.Memory
	mu         sync.Mutex
	failFinish bool
}

func (s *flakyStore) setFailFinish(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFinish = fail
}

func (s *flakyStore) FinishGame(ctx context.Context, roomID int64, rows []store.Ranking) error {
	s.mu.Lock()
	fail := s.failFinish
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: injected failure", store.ErrPersistence)
	}
	return s.Memory.FinishGame(ctx, roomID, rows)
}

func newTestManager(t *testing.T) (*Manager, *store.Memory, *engineFactory, *fakePresence, *fakeBroadcast) {
	t.Helper()
	st := store.NewMemory()
	factory := &engineFactory{}
	m := NewManager(st, factory.new, zerolog.Nop())
	presence := &fakePresence{members: make(map[int64]int)}
	broadcast := &fakeBroadcast{}
	m.SetTransport(presence, broadcast)
	t.Cleanup(m.Shutdown)
	return m, st, factory, presence, broadcast
}

func TestLoadRoomReturnsSameInstance(t *testing.T) {
	m, _, factory, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	second, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom again: %v", err)
	}
	if first != second {
		t.Fatal("same room id produced two room instances")
	}
	if factory.count() != 1 {
		t.Fatalf("%d engines created for one room", factory.count())
	}
}

func TestLoadRoomHydratesPersistedConfig(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()

	mapIndex, rank := 1, 2
	speed := 1.5
	if _, err := st.UpsertGameConfig(ctx, 7, store.ConfigPatch{
		MapIndex:    &mapIndex,
		MarbleNames: []string{"alice", "bob", "carol"},
		WinningRank: &rank,
		Speed:       &speed,
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	room, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if got := room.sim.MapIndex(); got != 1 {
		t.Errorf("map index %d, want 1", got)
	}
	if got := room.sim.TotalRacers(); got != 3 {
		t.Errorf("racers %d, want 3", got)
	}
	if got := room.sim.WinnerRank(); got != 2 {
		t.Errorf("winning rank %d, want 2", got)
	}
	if got := room.sim.Speed(); got != 1.5 {
		t.Errorf("speed %v, want 1.5", got)
	}
}

func TestLoadRoomResumesInProgressGame(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()

	status := store.StatusInProgress
	if _, err := st.UpsertGameConfig(ctx, 7, store.ConfigPatch{
		MarbleNames: []string{"alice", "bob"},
		Status:      &status,
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	room, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if !room.Running() {
		t.Fatal("IN_PROGRESS room did not resume running")
	}
	room.mu.Lock()
	hasLoop := room.loop != nil
	room.mu.Unlock()
	if !hasLoop {
		t.Fatal("resumed room has no driver loop")
	}
}

func TestStartGamePersistsInProgress(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 7); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 7, []string{"alice", "bob"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}
	if err := m.StartGame(ctx, 7); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	cfg, err := st.LoadGameConfig(ctx, 7)
	if err != nil || cfg == nil {
		t.Fatalf("LoadGameConfig: cfg=%v err=%v", cfg, err)
	}
	if cfg.Status != store.StatusInProgress {
		t.Errorf("status %s, want IN_PROGRESS", cfg.Status)
	}
	if len(cfg.MarbleNames) != 2 {
		t.Errorf("persisted names %v", cfg.MarbleNames)
	}

	// Starting again only reconciles; no error.
	if err := m.StartGame(ctx, 7); err != nil {
		t.Errorf("second StartGame: %v", err)
	}
}

func TestConfigMutationBlockedWhileRunning(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 7); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 7, []string{"alice", "bob"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}
	if err := m.StartGame(ctx, 7); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	if err := m.SetMap(ctx, 7, 1); !errors.Is(err, ErrConflict) {
		t.Errorf("SetMap while running: %v, want conflict", err)
	}
	if cfg, _ := st.LoadGameConfig(ctx, 7); cfg.MapIndex != 0 {
		t.Errorf("rejected SetMap still persisted map index %d", cfg.MapIndex)
	}
	if err := m.SetMarbles(ctx, 7, []string{"x"}); !errors.Is(err, ErrConflict) {
		t.Errorf("SetMarbles while running: %v, want conflict", err)
	}
	if err := m.SetWinningRank(ctx, 7, 0); !errors.Is(err, ErrConflict) {
		t.Errorf("SetWinningRank while running: %v, want conflict", err)
	}

	// Speed is the one knob that stays live mid-game.
	if err := m.SetSpeed(ctx, 7, 2); err != nil {
		t.Errorf("SetSpeed while running: %v", err)
	}
}

func TestOperationsOnUnknownRoom(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.StartGame(ctx, 99); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("StartGame: %v, want not found", err)
	}
	if err := m.EndGame(ctx, 99); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("EndGame: %v, want not found", err)
	}
	if _, err := m.Snapshot(99); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Snapshot: %v, want not found", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 7); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetWinningRank(ctx, 7, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative rank: %v", err)
	}
	if err := m.SetMap(ctx, 7, 99); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad map index: %v", err)
	}
	if err := m.SetSpeed(ctx, 7, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero speed: %v", err)
	}
}

func TestEndGameLifecycle(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 7); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 7, []string{"alice", "bob", "carol"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}

	// Ending a game that never started is a conflict.
	if err := m.EndGame(ctx, 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("EndGame before start: %v, want conflict", err)
	}

	if err := m.StartGame(ctx, 7); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if err := m.EndGame(ctx, 7); err != nil {
		t.Fatalf("EndGame: %v", err)
	}

	cfg, _ := st.LoadGameConfig(ctx, 7)
	if cfg.Status != store.StatusFinished {
		t.Errorf("status %s, want FINISHED", cfg.Status)
	}
	if rows := st.Rankings(7); len(rows) != 3 {
		t.Errorf("%d ranking rows persisted, want 3", len(rows))
	}

	// FINISHED blocks configuration until a reset.
	if err := m.SetMarbles(ctx, 7, []string{"x"}); !errors.Is(err, ErrConflict) {
		t.Errorf("SetMarbles after finish: %v, want conflict", err)
	}
	if err := m.ResetGame(ctx, 7); err != nil {
		t.Fatalf("ResetGame: %v", err)
	}
	cfg, _ = st.LoadGameConfig(ctx, 7)
	if cfg.Status != store.StatusWaiting {
		t.Errorf("status after reset %s, want WAITING", cfg.Status)
	}
	if rows := st.Rankings(7); len(rows) != 0 {
		t.Errorf("rankings survived reset: %v", rows)
	}
	if err := m.SetMarbles(ctx, 7, []string{"x"}); err != nil {
		t.Errorf("SetMarbles after reset: %v", err)
	}

	// Reset is idempotent.
	if err := m.ResetGame(ctx, 7); err != nil {
		t.Errorf("second ResetGame: %v", err)
	}
}

func TestCollectorEvictsIdleRooms(t *testing.T) {
	m, _, factory, presence, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 1); err != nil {
		t.Fatalf("LoadRoom 1: %v", err)
	}
	if _, err := m.LoadRoom(ctx, 2); err != nil {
		t.Fatalf("LoadRoom 2: %v", err)
	}
	presence.set(1, 3)
	presence.set(2, 0)

	m.collectOnce()

	if _, err := m.getRoom(1); err != nil {
		t.Errorf("occupied room evicted: %v", err)
	}
	if _, err := m.getRoom(2); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("idle room not evicted: %v", err)
	}
	if !factory.engines[1].Destroyed() {
		t.Error("evicted room's engine was not destroyed")
	}
}

func TestCollectorSparesRunningRooms(t *testing.T) {
	m, _, _, presence, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 1); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 1, []string{"alice"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}
	if err := m.StartGame(ctx, 1); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	presence.set(1, 0)

	m.collectOnce()

	if _, err := m.getRoom(1); err != nil {
		t.Errorf("running room evicted despite empty channel: %v", err)
	}
}

func TestCollectorSkipsWhenBusy(t *testing.T) {
	m, _, _, presence, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LoadRoom(ctx, 1); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	presence.set(1, 0)

	m.collecting.Store(true)
	m.collectOnce()
	m.collecting.Store(false)

	if _, err := m.getRoom(1); err != nil {
		t.Errorf("overlapping collector cycle still evicted: %v", err)
	}
}

func TestTickRetriesFinalizeOnStoreFailure(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	factory := &engineFactory{}
	m := NewManager(st, factory.new, zerolog.Nop())
	broadcast := &fakeBroadcast{}
	m.SetTransport(&fakePresence{members: make(map[int64]int)}, broadcast)
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	room, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 7, []string{"alice", "bob"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}

	// Drive the tick by hand: the run flag is up but the simulation already
	// reports a decided race, which is exactly the finalize path.
	room.mu.Lock()
	room.running = true
	room.mu.Unlock()

	st.setFailFinish(true)
	if done := m.tick(room); done {
		t.Fatal("tick tore the loop down despite a failed finalize")
	}
	if !room.Running() {
		t.Fatal("room stopped running before the finish was persisted")
	}
	if broadcast.has(7, "finished") {
		t.Fatal("finished broadcast sent before persistence succeeded")
	}

	st.setFailFinish(false)
	if done := m.tick(room); !done {
		t.Fatal("tick did not finish after the store recovered")
	}
	if room.Running() {
		t.Error("room still running after successful finalize")
	}
	if !broadcast.has(7, "finished") {
		t.Error("finished broadcast missing after successful finalize")
	}
	if len(st.Rankings(7)) != 2 {
		t.Errorf("%d ranking rows, want 2", len(st.Rankings(7)))
	}
}

func TestUseSkill(t *testing.T) {
	m, _, factory, _, _ := newTestManager(t)
	ctx := context.Background()

	room, err := m.LoadRoom(ctx, 7)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if err := m.SetMarbles(ctx, 7, []string{"alice"}); err != nil {
		t.Fatalf("SetMarbles: %v", err)
	}

	if err := m.UseSkill(7, SkillRequest{Type: "explode"}); !errors.Is(err, ErrInvalidSkill) {
		t.Errorf("unknown skill: %v", err)
	}

	if err := m.UseSkill(7, SkillRequest{Type: "impact", X: 3, Y: 4, Caller: "bob", Extra: ImpactExtra{}}); err != nil {
		t.Fatalf("impact skill: %v", err)
	}
	eng := factory.engines[0]
	if len(eng.Impulses) != 1 {
		t.Fatalf("engine received %d impulses, want 1", len(eng.Impulses))
	}

	before := len(room.Snapshot().Racers)
	if err := m.UseSkill(7, SkillRequest{Type: "dummy", X: 5, Y: 2, Caller: "bob", Extra: DummyExtra{Label: "bob"}}); err != nil {
		t.Fatalf("dummy skill: %v", err)
	}
	after := len(room.Snapshot().Racers)
	if after-before != dummySpawnCount {
		t.Errorf("dummy skill spawned %d marbles, want %d", after-before, dummySpawnCount)
	}

	if err := m.UseSkill(99, SkillRequest{Type: "impact"}); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("skill on unknown room: %v", err)
	}
}
