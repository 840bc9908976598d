package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Info("sqlite store ready", zap.String("path", dbPath))
	return &SQLite{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateRoom(ctx context.Context) (*Room, error) {
	id := NewRoomID()
	if _, err := s.db.ExecContext(ctx, "INSERT INTO rooms (id) VALUES (?)", id); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return s.GetRoom(ctx, id)
}

func (s *SQLite) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Code, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLite) LoadContent(ctx context.Context, id string) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, "SELECT code FROM rooms WHERE id = ?", id).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRoomNotFound
	}
	return code, err
}

func (s *SQLite) SaveContent(ctx context.Context, id, code string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		code, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *SQLite) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Code, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
