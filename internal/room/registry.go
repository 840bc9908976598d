// Package room holds the live, in-memory state of every room that has at
// least one connected member: who is in it and what its code currently is.
//
// Each room has its own mutex. The registry lock only guards the map, so
// work on one room never waits on another. Lock order is room, then
// registry; nothing takes a room lock while holding the registry lock.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/manpreetbhatti/pairpad/internal/metrics"
	"github.com/manpreetbhatti/pairpad/internal/store"
)

// ErrRoomNotLive is returned for operations on a room with no live entry.
// Callers must EnsureLoaded first.
var ErrRoomNotLive = errors.New("room not live")

const loadTimeout = 10 * time.Second

// Member is one connected participant. Enqueue must not block; it returns
// false when the member can no longer accept messages.
type Member interface {
	ID() string
	Enqueue(msg []byte) bool
}

type liveRoom struct {
	id string

	mu      sync.Mutex
	content string
	members map[Member]struct{}
	evicted bool
}

type Registry struct {
	loader store.Loader
	log    *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*liveRoom

	loads singleflight.Group
}

func NewRegistry(loader store.Loader, log *zap.Logger) *Registry {
	return &Registry{
		loader: loader,
		log:    log,
		rooms:  make(map[string]*liveRoom),
	}
}

func (r *Registry) lookup(roomID string) *liveRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// EnsureLoaded creates the live entry for roomID from the loader if there is
// none. Concurrent first loads of one room share a single loader call, which
// is detached from the caller's cancellation so one client giving up does not
// fail the others. Fails with store.ErrRoomNotFound when the room does not
// exist.
func (r *Registry) EnsureLoaded(ctx context.Context, roomID string) error {
	if r.lookup(roomID) != nil {
		return nil
	}

	_, err, _ := r.loads.Do(roomID, func() (any, error) {
		if r.lookup(roomID) != nil {
			return nil, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		code, err := r.loader.LoadContent(loadCtx, roomID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if _, ok := r.rooms[roomID]; !ok {
			r.rooms[roomID] = &liveRoom{
				id:      roomID,
				content: code,
				members: make(map[Member]struct{}),
			}
			metrics.LiveRooms.Inc()
			r.log.Debug("room loaded", zap.String("room", roomID), zap.Int("bytes", len(code)))
		}
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// Tx is a view of one locked room. It is only valid inside the Atomically
// callback that produced it.
type Tx struct {
	room *liveRoom
}

func (tx *Tx) RoomID() string { return tx.room.id }

func (tx *Tx) AddMember(m Member) int {
	tx.room.members[m] = struct{}{}
	return len(tx.room.members)
}

// RemoveMember drops m and, when that empties the room, marks the entry for
// eviction. The cached content goes with it.
func (tx *Tx) RemoveMember(m Member) int {
	if _, ok := tx.room.members[m]; !ok {
		return len(tx.room.members)
	}
	delete(tx.room.members, m)
	if len(tx.room.members) == 0 {
		tx.room.evicted = true
	}
	return len(tx.room.members)
}

func (tx *Tx) Content() string { return tx.room.content }

// SetContent replaces the cached code. Whoever gets the room lock last wins.
func (tx *Tx) SetContent(code string) { tx.room.content = code }

func (tx *Tx) MemberCount() int { return len(tx.room.members) }

func (tx *Tx) Members() []Member {
	out := make([]Member, 0, len(tx.room.members))
	for m := range tx.room.members {
		out = append(out, m)
	}
	return out
}

// Atomically runs fn with the room locked. Nothing else touches the room
// until fn returns, which lets callers mutate and fan out as one step.
func (r *Registry) Atomically(roomID string, fn func(tx *Tx) error) error {
	lr := r.lookup(roomID)
	if lr == nil {
		return ErrRoomNotLive
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	// lost a race with the last member leaving
	if lr.evicted {
		return ErrRoomNotLive
	}

	err := fn(&Tx{room: lr})

	if lr.evicted {
		r.evict(lr)
	}
	return err
}

// evict is called with lr.mu held
func (r *Registry) evict(lr *liveRoom) {
	r.mu.Lock()
	if r.rooms[lr.id] == lr {
		delete(r.rooms, lr.id)
		metrics.LiveRooms.Dec()
	}
	r.mu.Unlock()
	r.log.Debug("room evicted", zap.String("room", lr.id))
}

func (r *Registry) AddMember(roomID string, m Member) (count int, err error) {
	err = r.Atomically(roomID, func(tx *Tx) error {
		count = tx.AddMember(m)
		return nil
	})
	return count, err
}

func (r *Registry) RemoveMember(roomID string, m Member) (count int, err error) {
	err = r.Atomically(roomID, func(tx *Tx) error {
		count = tx.RemoveMember(m)
		return nil
	})
	return count, err
}

func (r *Registry) Content(roomID string) (code string, err error) {
	err = r.Atomically(roomID, func(tx *Tx) error {
		code = tx.Content()
		return nil
	})
	return code, err
}

func (r *Registry) SetContent(roomID, code string) error {
	return r.Atomically(roomID, func(tx *Tx) error {
		tx.SetContent(code)
		return nil
	})
}

func (r *Registry) MemberCount(roomID string) (count int, err error) {
	err = r.Atomically(roomID, func(tx *Tx) error {
		count = tx.MemberCount()
		return nil
	})
	return count, err
}

// Members returns a snapshot of the room's member set
func (r *Registry) Members(roomID string) (members []Member, err error) {
	err = r.Atomically(roomID, func(tx *Tx) error {
		members = tx.Members()
		return nil
	})
	return members, err
}

func (r *Registry) snapshot() []*liveRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*liveRoom, 0, len(r.rooms))
	for _, lr := range r.rooms {
		out = append(out, lr)
	}
	return out
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ClientCount returns the number of members across all live rooms
func (r *Registry) ClientCount() int {
	total := 0
	for _, n := range r.ActiveRooms() {
		total += n
	}
	return total
}

// ActiveRooms maps each live room to its member count
func (r *Registry) ActiveRooms() map[string]int {
	out := make(map[string]int)
	for _, lr := range r.snapshot() {
		lr.mu.Lock()
		if !lr.evicted {
			out[lr.id] = len(lr.members)
		}
		lr.mu.Unlock()
	}
	return out
}
