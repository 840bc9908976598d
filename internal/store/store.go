// Package store is the durable side of pairpad: it creates rooms, answers
// whether a room exists, and keeps the last persisted code for each room.
//
// Three backends implement Store: SQLite (the default, a single file next to
// the server), Postgres and Redis. The realtime core only ever calls
// LoadContent and SaveContent; the HTTP API uses the rest.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Room is the persisted record of a room
type Room struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Loader resolves a room's persisted code, failing with ErrRoomNotFound
type Loader interface {
	LoadContent(ctx context.Context, id string) (string, error)
}

// Saver persists a room's code, failing with ErrRoomNotFound
type Saver interface {
	SaveContent(ctx context.Context, id, code string) error
}

type Store interface {
	Loader
	Saver

	CreateRoom(ctx context.Context) (*Room, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]Room, error)
	Close() error
}

// NewRoomID returns an 8 character hex identifier
func NewRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
