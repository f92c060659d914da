// Package store defines the narrow persistence contract the session layer
// consumes, plus a Postgres implementation and an in-memory one for local
// runs and tests.
package store

import (
	"context"
	"errors"
)

// ErrPersistence wraps any store round-trip failure. Callers match it with
// errors.Is; the driver error stays in the chain.
var ErrPersistence = errors.New("store: persistence failure")

// Status is the persisted lifecycle of a room's game.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// GameConfig is the persisted configuration of one room's game.
type GameConfig struct {
	RoomID      int64
	MapIndex    int
	MarbleNames []string
	WinningRank int
	Speed       float64
	Status      Status
}

// ConfigPatch carries partial updates; nil fields stay untouched.
type ConfigPatch struct {
	MapIndex    *int
	MarbleNames []string
	WinningRank *int
	Speed       *float64
	Status      *Status
}

// Ranking is one persisted final-standing row.
type Ranking struct {
	Rank     int
	MarbleID int
	Name     string
	IsWinner bool
}

// Store is the persistence contract. LoadGameConfig returns (nil, nil) when
// no config exists for the room. FinishGame and ResetGame are transactional:
// the status transition and the ranking mutation commit or fail together.
type Store interface {
	LoadGameConfig(ctx context.Context, roomID int64) (*GameConfig, error)
	UpsertGameConfig(ctx context.Context, roomID int64, patch ConfigPatch) (*GameConfig, error)
	UpdateStatus(ctx context.Context, roomID int64, status Status) error
	// FinishGame marks the game FINISHED and replaces any prior ranking
	// rows in one transaction.
	FinishGame(ctx context.Context, roomID int64, rows []Ranking) error
	// ResetGame marks the game WAITING and deletes its ranking rows in one
	// transaction.
	ResetGame(ctx context.Context, roomID int64) error
	DeleteGameConfig(ctx context.Context, roomID int64) error
}
