package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedis(context.Background(), mr.Addr(), 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return mr, s
}

func TestRedisCreateAndLoad(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx)
	require.NoError(t, err)
	assert.Len(t, room.ID, 8)
	assert.True(t, mr.Exists("room:"+room.ID))

	code, err := s.LoadContent(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "", code)

	require.NoError(t, s.SaveContent(ctx, room.ID, "print(1)"))

	code, err = s.LoadContent(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", got.Code)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestRedisCreateRefusesExistingID(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	room, err := s.createRoom(ctx, "deadbeef")
	require.NoError(t, err)
	require.NoError(t, s.SaveContent(ctx, room.ID, "keep me"))

	_, err = s.createRoom(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrRoomExists)

	code, err := s.LoadContent(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "keep me", code)
	assert.Equal(t, "keep me", mr.HGet("room:deadbeef", "code"))
}

func TestRedisMissingRoom(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.LoadContent(ctx, "nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = s.GetRoom(ctx, "nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	err = s.SaveContent(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.False(t, mr.Exists("room:nope"), "save must not create a room")
}

func TestRedisListRooms(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		room, err := s.CreateRoom(ctx)
		require.NoError(t, err)
		ids = append(ids, room.ID)
	}

	rooms, err := s.ListRooms(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rooms, 3)

	rooms, err = s.ListRooms(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	// a dangling index entry is skipped
	mr.Del("room:" + ids[0])
	rooms, err = s.ListRooms(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}
