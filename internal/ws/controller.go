package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/pairpad/internal/metrics"
	"github.com/manpreetbhatti/pairpad/internal/protocol"
	"github.com/manpreetbhatti/pairpad/internal/ratelimit"
	"github.com/manpreetbhatti/pairpad/internal/room"
	"github.com/manpreetbhatti/pairpad/internal/store"
)

const maxJoinAttempts = 3

var (
	// ErrRoomRejected means the room does not exist; the client got close
	// code 4001
	ErrRoomRejected = errors.New("room rejected")
	ErrShuttingDown = errors.New("server shutting down")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Persister receives every accepted edit. It is called with the room locked
// and must not block.
type Persister interface {
	Enqueue(roomID, code string)
}

type Options struct {
	SendQueue int
	EditRate  float64
	EditBurst int
}

// Controller drives each session through join, the edit loop and leave
type Controller struct {
	reg     *room.Registry
	bc      *room.Broadcaster
	persist Persister
	opts    Options
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup

	// beforeJoin, when set, runs ahead of each join transaction
	beforeJoin func(attempt int)
}

func NewController(reg *room.Registry, bc *room.Broadcaster, persist Persister, opts Options, log *zap.Logger) *Controller {
	return &Controller{
		reg:      reg,
		bc:       bc,
		persist:  persist,
		opts:     opts,
		log:      log,
		sessions: make(map[*Session]struct{}),
	}
}

// ServeWS upgrades the request and runs the session until it ends
func (c *Controller) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	err = c.Run(r.Context(), roomID, newTransport(conn))
	switch {
	case err == nil, errors.Is(err, ErrRoomRejected), errors.Is(err, ErrShuttingDown):
	default:
		c.log.Warn("session ended with error", zap.String("room", roomID), zap.Error(err))
	}
}

// Run owns t until the client goes away, ctx is cancelled or the controller
// shuts down. A room unknown to the store is refused with close code 4001
// before anything is sent.
func (c *Controller) Run(ctx context.Context, roomID string, t Transport) error {
	s := newSession(roomID, t, c.opts.SendQueue, c.log)
	if !c.track(s) {
		_ = t.Close(websocket.CloseGoingAway, "server shutting down")
		return ErrShuttingDown
	}
	defer c.untrack(s)

	if err := c.reg.EnsureLoaded(ctx, roomID); err != nil {
		return c.refuse(t, roomID, err)
	}

	go s.writePump()
	defer func() { <-s.writerDone }()

	stop := context.AfterFunc(ctx, func() {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	if err := c.join(ctx, s); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			metrics.Rejected.Inc()
			s.Close(protocol.CloseRoomNotFound, "room not found")
			return fmt.Errorf("%w: %s", ErrRoomRejected, roomID)
		}
		s.Close(websocket.CloseInternalServerErr, "join failed")
		return err
	}
	metrics.Sessions.Inc()
	defer c.leave(s)

	return c.readLoop(s)
}

func (c *Controller) refuse(t Transport, roomID string, err error) error {
	if errors.Is(err, store.ErrRoomNotFound) {
		metrics.Rejected.Inc()
		c.log.Info("unknown room", zap.String("room", roomID))
		_ = t.Close(protocol.CloseRoomNotFound, "room not found")
		return fmt.Errorf("%w: %s", ErrRoomRejected, roomID)
	}
	c.log.Error("load room", zap.String("room", roomID), zap.Error(err))
	_ = t.Close(websocket.CloseInternalServerErr, "room unavailable")
	return fmt.Errorf("load room %s: %w", roomID, err)
}

// join adds s, tells the whole room the new count and hands s the current
// code, all under the room lock so no edit can slip in between. The entry
// may have been evicted since EnsureLoaded; then load again and retry.
func (c *Controller) join(ctx context.Context, s *Session) error {
	var err error
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		if attempt > 0 {
			if err := c.reg.EnsureLoaded(ctx, s.roomID); err != nil {
				return err
			}
		}

		if c.beforeJoin != nil {
			c.beforeJoin(attempt)
		}

		err = c.reg.Atomically(s.roomID, func(tx *room.Tx) error {
			n := tx.AddMember(s)
			c.bc.Fanout(tx, protocol.Members(n), nil)

			data, err := protocol.Init(tx.Content()).Encode()
			if err != nil {
				return err
			}
			s.Enqueue(data)

			s.log.Info("joined", zap.Int("members", n))
			return nil
		})
		if !errors.Is(err, room.ErrRoomNotLive) {
			return err
		}
	}
	return fmt.Errorf("join room %s: %w", s.roomID, err)
}

func (c *Controller) readLoop(s *Session) error {
	limiter := ratelimit.NewLimiter(c.opts.EditRate, c.opts.EditBurst)

	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Info("read ended", zap.Error(err))
			}
			return nil
		}

		switch verdict, n := limiter.Check(); verdict {
		case ratelimit.Drop:
			metrics.RateLimited.Inc()
			if ratelimit.ShouldWarn(n) {
				s.log.Warn("rate limit exceeded", zap.Int("violations", n))
			}
			continue
		case ratelimit.Disconnect:
			s.log.Warn("disconnecting for excessive rate limit violations", zap.Int("violations", n))
			s.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return ErrRateLimited
		}

		in, err := protocol.ParseInbound(data)
		if err != nil {
			s.log.Debug("malformed message", zap.Error(err))
			continue
		}
		if in.Type != protocol.MessageTypeCodeUpdate {
			continue
		}

		if err := c.applyEdit(s, in.Code); err != nil {
			s.log.Error("apply edit", zap.Error(err))
			s.Close(websocket.CloseInternalServerErr, "room state lost")
			return err
		}
	}
}

// applyEdit replaces the room's code, queues it for saving and forwards it
// to everyone but the sender in one step. Queueing under the room lock keeps
// the persister's order identical to the cache's.
func (c *Controller) applyEdit(s *Session, code string) error {
	err := c.reg.Atomically(s.roomID, func(tx *room.Tx) error {
		tx.SetContent(code)
		c.persist.Enqueue(s.roomID, code)
		c.bc.Fanout(tx, protocol.CodeUpdate(code), s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("edit room %s: %w", s.roomID, err)
	}

	metrics.Edits.Inc()
	return nil
}

// leave always runs once a session has joined, however it ended
func (c *Controller) leave(s *Session) {
	metrics.Sessions.Dec()

	err := c.reg.Atomically(s.roomID, func(tx *room.Tx) error {
		n := tx.RemoveMember(s)
		if n > 0 {
			c.bc.Fanout(tx, protocol.Members(n), nil)
		}
		s.log.Info("left", zap.Int("members", n))
		return nil
	})
	if err != nil {
		s.log.Error("leave room", zap.Error(err))
	}

	s.Close(websocket.CloseNormalClosure, "")
}

func (c *Controller) track(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.sessions[s] = struct{}{}
	c.wg.Add(1)
	return true
}

func (c *Controller) untrack(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
	c.wg.Done()
}

// Shutdown closes every session and waits for their leave paths to finish
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	for s := range c.sessions {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	}
	n := len(c.sessions)
	c.mu.Unlock()

	c.log.Info("closing sessions", zap.Int("sessions", n))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
