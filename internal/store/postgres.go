package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_configs (
	room_id      BIGINT PRIMARY KEY,
	map_index    INT NOT NULL DEFAULT 0,
	marble_names TEXT[] NOT NULL DEFAULT '{}',
	winning_rank INT NOT NULL DEFAULT 0,
	speed        DOUBLE PRECISION NOT NULL DEFAULT 1,
	status       TEXT NOT NULL DEFAULT 'WAITING',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rankings (
	room_id   BIGINT NOT NULL REFERENCES game_configs(room_id) ON DELETE CASCADE,
	rank      INT NOT NULL,
	marble_id INT NOT NULL,
	name      TEXT NOT NULL,
	is_winner BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (room_id, rank)
);
`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects, pings and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrPersistence, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrPersistence, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrPersistence, err)
	}
	return &Postgres{pool: pool, log: log.With().Str("component", "store").Logger()}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) LoadGameConfig(ctx context.Context, roomID int64) (*GameConfig, error) {
	cfg := GameConfig{RoomID: roomID}
	err := p.pool.QueryRow(ctx,
		`SELECT map_index, marble_names, winning_rank, speed, status
		 FROM game_configs WHERE room_id = $1`, roomID,
	).Scan(&cfg.MapIndex, &cfg.MarbleNames, &cfg.WinningRank, &cfg.Speed, &cfg.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %v", ErrPersistence, err)
	}
	return &cfg, nil
}

func (p *Postgres) UpsertGameConfig(ctx context.Context, roomID int64, patch ConfigPatch) (*GameConfig, error) {
	cfg := GameConfig{RoomID: roomID}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO game_configs (room_id, map_index, marble_names, winning_rank, speed, status)
		 VALUES ($1, COALESCE($2, 0), COALESCE($3, '{}'), COALESCE($4, 0), COALESCE($5, 1), COALESCE($6, 'WAITING'))
		 ON CONFLICT (room_id) DO UPDATE SET
			map_index    = COALESCE($2, game_configs.map_index),
			marble_names = COALESCE($3, game_configs.marble_names),
			winning_rank = COALESCE($4, game_configs.winning_rank),
			speed        = COALESCE($5, game_configs.speed),
			status       = COALESCE($6, game_configs.status),
			updated_at   = now()
		 RETURNING map_index, marble_names, winning_rank, speed, status`,
		roomID, patch.MapIndex, patch.MarbleNames, patch.WinningRank, patch.Speed, patch.Status,
	).Scan(&cfg.MapIndex, &cfg.MarbleNames, &cfg.WinningRank, &cfg.Speed, &cfg.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert config: %v", ErrPersistence, err)
	}
	return &cfg, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, roomID int64, status Status) error {
	if _, err := p.pool.Exec(ctx,
		`UPDATE game_configs SET status = $2, updated_at = now() WHERE room_id = $1`,
		roomID, status,
	); err != nil {
		return fmt.Errorf("%w: update status: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) FinishGame(ctx context.Context, roomID int64, rows []Ranking) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO game_configs (room_id, status) VALUES ($1, $2)
		 ON CONFLICT (room_id) DO UPDATE SET status = $2, updated_at = now()`,
		roomID, StatusFinished,
	); err != nil {
		return fmt.Errorf("%w: finish status: %v", ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rankings WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("%w: clear rankings: %v", ErrPersistence, err)
	}
	for _, row := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rankings (room_id, rank, marble_id, name, is_winner)
			 VALUES ($1, $2, $3, $4, $5)`,
			roomID, row.Rank, row.MarbleID, row.Name, row.IsWinner,
		); err != nil {
			return fmt.Errorf("%w: insert ranking: %v", ErrPersistence, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) ResetGame(ctx context.Context, roomID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE game_configs SET status = $2, updated_at = now() WHERE room_id = $1`,
		roomID, StatusWaiting,
	); err != nil {
		return fmt.Errorf("%w: reset status: %v", ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rankings WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("%w: delete rankings: %v", ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) DeleteGameConfig(ctx context.Context, roomID int64) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM game_configs WHERE room_id = $1`, roomID,
	); err != nil {
		return fmt.Errorf("%w: delete config: %v", ErrPersistence, err)
	}
	return nil
}

// Rankings reads back the persisted standings for a room, ordered by rank.
func (p *Postgres) Rankings(ctx context.Context, roomID int64) ([]Ranking, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT rank, marble_id, name, is_winner FROM rankings
		 WHERE room_id = $1 ORDER BY rank`, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: query rankings: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Ranking
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.Rank, &r.MarbleID, &r.Name, &r.IsWinner); err != nil {
			return nil, fmt.Errorf("%w: scan ranking: %v", ErrPersistence, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rankings: %v", ErrPersistence, err)
	}
	return out, nil
}
