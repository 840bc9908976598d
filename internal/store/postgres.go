package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgres connects to postgres, verifies connectivity and creates the
// rooms table if needed
func NewPostgres(ctx context.Context, url string, maxConns int, log *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pg url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Info("postgres store ready", zap.Int32("max_conns", cfg.MaxConns))
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRoom(ctx context.Context) (*Room, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO rooms (id) VALUES ($1)
		RETURNING id, code, created_at, updated_at
	`, NewRoomID())

	var r Room
	if err := row.Scan(&r.ID, &r.Code, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return &r, nil
}

func (p *Postgres) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, code, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id)

	var r Room
	if err := row.Scan(&r.ID, &r.Code, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) LoadContent(ctx context.Context, id string) (string, error) {
	var code string
	err := p.pool.QueryRow(ctx, `SELECT code FROM rooms WHERE id = $1`, id).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRoomNotFound
	}
	return code, err
}

// SaveContent replaces the room's code and bumps its timestamp
func (p *Postgres) SaveContent(ctx context.Context, id, code string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE rooms
		SET code = $2, updated_at = NOW()
		WHERE id = $1
	`, id, code)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// ListRooms returns rooms sorted by last update
func (p *Postgres) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, code, created_at, updated_at
		FROM rooms
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Code, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
