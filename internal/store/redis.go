package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const roomIndexKey = "rooms"

// saveScript only writes when the room hash already exists, so a save can
// never resurrect a deleted room
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'code', ARGV[1], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// createScript refuses to touch an existing hash so an id collision cannot
// wipe another room's code
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'code', '', 'created_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// Redis keeps each room in a hash at room:<id> and indexes ids by last update
// in the "rooms" sorted set
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewRedis connects to redis and verifies connectivity
func NewRedis(ctx context.Context, addr string, db int, log *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("redis store ready", zap.String("addr", addr), zap.Int("db", db))
	return &Redis{rdb: rdb, log: log}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) CreateRoom(ctx context.Context) (*Room, error) {
	return r.createRoom(ctx, NewRoomID())
}

func (r *Redis) createRoom(ctx context.Context, id string) (*Room, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ms := now.UnixMilli()

	n, err := createScript.Run(ctx, r.rdb, []string{roomKey(id), roomIndexKey}, ms, id).Int()
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("insert room %s: %w", id, ErrRoomExists)
	}
	return &Room{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *Redis) GetRoom(ctx context.Context, id string) (*Room, error) {
	fields, err := r.rdb.HGetAll(ctx, roomKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRoomNotFound
	}
	return roomFromHash(id, fields), nil
}

func (r *Redis) LoadContent(ctx context.Context, id string) (string, error) {
	vals, err := r.rdb.HMGet(ctx, roomKey(id), "code", "created_at").Result()
	if err != nil {
		return "", err
	}
	// created_at is always set, so a nil means the hash is missing
	if vals[1] == nil {
		return "", ErrRoomNotFound
	}
	code, _ := vals[0].(string)
	return code, nil
}

func (r *Redis) SaveContent(ctx context.Context, id, code string) error {
	ms := time.Now().UnixMilli()
	n, err := saveScript.Run(ctx, r.rdb, []string{roomKey(id), roomIndexKey}, code, ms, id).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *Redis) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	ids, err := r.rdb.ZRevRange(ctx, roomIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, roomKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rooms := make([]Room, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// index entry outlived its hash
			continue
		}
		rooms = append(rooms, *roomFromHash(ids[i], fields))
	}
	return rooms, nil
}

func roomKey(id string) string { return "room:" + id }

func roomFromHash(id string, fields map[string]string) *Room {
	return &Room{
		ID:        id,
		Code:      fields["code"],
		CreatedAt: parseMillis(fields["created_at"]),
		UpdatedAt: parseMillis(fields["updated_at"]),
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
