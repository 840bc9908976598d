package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is one client joined to one room. Outbound messages go through a
// bounded queue drained by a dedicated writer, so a slow client only ever
// delays itself.
type Session struct {
	id          string
	roomID      string
	connectedAt time.Time

	transport Transport
	log       *zap.Logger

	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	writerDone chan struct{}
}

func newSession(roomID string, t Transport, queue int, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		roomID:      roomID,
		connectedAt: time.Now(),
		transport:   t,
		log:         log.With(zap.String("session", id), zap.String("room", roomID)),
		send:        make(chan []byte, queue),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) RoomID() string         { return s.roomID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Enqueue queues msg without blocking. A full queue means the client cannot
// keep up; the session is closed and its reader will run the leave path.
func (s *Session) Enqueue(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.log.Warn("send queue full, closing session", zap.Int("queue", cap(s.send)))
		s.closeLocked(websocket.ClosePolicyViolation, "too slow")
		return false
	}
}

// Close stops the session and tears down the transport with a close frame
// carrying code. Safe to call more than once; the first code wins.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(code, reason)
}

// closeLocked may run under a room lock, so the transport is closed off
// this goroutine. Closing it also unblocks a writer stuck on a dead peer.
func (s *Session) closeLocked(code int, reason string) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	go func() {
		if err := s.transport.Close(code, reason); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
	}()
}

// writePump owns all data writes to the transport
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.writerDone)
	}()

	for {
		select {
		case <-s.done:
			return

		case msg := <-s.send:
			if err := s.transport.WriteMessage(msg); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.Close(websocket.CloseGoingAway, "")
				return
			}

		case <-ticker.C:
			if err := s.transport.Ping(); err != nil {
				s.Close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}
