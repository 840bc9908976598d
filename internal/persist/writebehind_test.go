package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/pairpad/internal/store"
)

type memBackend struct {
	mu     sync.Mutex
	rooms  map[string]string
	saves  map[string]int
	fail   map[string]bool
	block  chan struct{} // when set, SaveContent waits on it
	saving chan string
}

func newMemBackend(ids ...string) *memBackend {
	b := &memBackend{
		rooms: make(map[string]string),
		saves: make(map[string]int),
		fail:  make(map[string]bool),
	}
	for _, id := range ids {
		b.rooms[id] = ""
	}
	return b
}

func (b *memBackend) LoadContent(_ context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	code, ok := b.rooms[id]
	if !ok {
		return "", store.ErrRoomNotFound
	}
	return code, nil
}

func (b *memBackend) SaveContent(_ context.Context, id, code string) error {
	if b.saving != nil {
		b.saving <- id
	}
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[id] {
		return errors.New("disk on fire")
	}
	if _, ok := b.rooms[id]; !ok {
		return store.ErrRoomNotFound
	}
	b.rooms[id] = code
	b.saves[id]++
	return nil
}

func (b *memBackend) stored(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[id]
}

func TestEnqueueCoalesces(t *testing.T) {
	b := newMemBackend("r1", "r2")
	w := New(b, time.Hour, zap.NewNop())

	w.Enqueue("r1", "a")
	w.Enqueue("r1", "ab")
	w.Enqueue("r1", "abc")
	w.Enqueue("r2", "x")

	assert.Equal(t, 0, w.Flush(context.Background()))
	assert.Equal(t, "abc", b.stored("r1"))
	assert.Equal(t, "x", b.stored("r2"))
	assert.Equal(t, 1, b.saves["r1"], "intermediate contents are never written")

	// nothing left
	assert.Equal(t, 0, w.Flush(context.Background()))
	assert.Equal(t, 1, b.saves["r1"])
}

func TestLoadPrefersPending(t *testing.T) {
	b := newMemBackend("r1")
	b.rooms["r1"] = "old"
	w := New(b, time.Hour, zap.NewNop())

	code, err := w.LoadContent(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "old", code)

	w.Enqueue("r1", "new")
	code, err = w.LoadContent(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", code)

	_, err = w.LoadContent(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestLoadSeesInflight(t *testing.T) {
	b := newMemBackend("r1")
	b.rooms["r1"] = "old"
	b.block = make(chan struct{})
	b.saving = make(chan string, 1)
	w := New(b, time.Hour, zap.NewNop())

	w.Enqueue("r1", "new")
	done := make(chan int)
	go func() { done <- w.Flush(context.Background()) }()

	<-b.saving
	code, err := w.LoadContent(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", code, "content being written must not be shadowed by the store copy")

	close(b.block)
	assert.Equal(t, 0, <-done)
	assert.Equal(t, "new", b.stored("r1"))
}

func TestFlushFailureIsCountedAndDropped(t *testing.T) {
	b := newMemBackend("ok", "bad")
	b.fail["bad"] = true
	w := New(b, time.Hour, zap.NewNop())

	w.Enqueue("ok", "1")
	w.Enqueue("bad", "2")
	w.Enqueue("gone", "3")

	assert.Equal(t, 2, w.Flush(context.Background()))
	assert.Equal(t, "1", b.stored("ok"))

	// dropped, so the store copy is what loads now
	code, err := w.LoadContent(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, "", code)
}

func TestStopFlushesPending(t *testing.T) {
	b := newMemBackend("r1")
	w := New(b, time.Hour, zap.NewNop())
	w.Start()

	w.Enqueue("r1", "final")
	w.Stop()

	assert.Equal(t, "final", b.stored("r1"))
}

func TestTickerFlushes(t *testing.T) {
	b := newMemBackend("r1")
	w := New(b, 10*time.Millisecond, zap.NewNop())
	w.Start()
	defer w.Stop()

	w.Enqueue("r1", "tick")
	assert.Eventually(t, func() bool { return b.stored("r1") == "tick" }, time.Second, 5*time.Millisecond)
}
