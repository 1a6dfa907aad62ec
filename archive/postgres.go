/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Seednode/popbox/game"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS game_results (
		id          BIGSERIAL PRIMARY KEY,
		room_id     TEXT NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		scores      JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS game_results_room_idx
		ON game_results (room_id, finished_at DESC)`,
}

// Postgres stores results in the game_results table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to url and creates the schema if it is missing.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Record(ctx context.Context, r Result) error {
	if err := validate(r); err != nil {
		return err
	}

	scores := r.Scores
	if scores == nil {
		scores = []game.Entry{}
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO game_results (room_id, finished_at, scores) VALUES ($1, $2, $3)`,
		r.RoomID, r.FinishedAt, scores)
	if err != nil {
		return fmt.Errorf("record result for %s: %w", r.RoomID, err)
	}

	return nil
}

func (p *Postgres) Recent(ctx context.Context, roomID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx,
		`SELECT room_id, finished_at, scores FROM game_results
		WHERE room_id = $1
		ORDER BY finished_at DESC, id DESC
		LIMIT $2`,
		roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", roomID, err)
	}
	defer rows.Close()

	out := []Result{}
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.RoomID, &r.FinishedAt, &r.Scores); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
}
