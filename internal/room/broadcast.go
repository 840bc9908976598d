package room

import (
	"go.uber.org/zap"

	"github.com/manpreetbhatti/pairpad/internal/metrics"
	"github.com/manpreetbhatti/pairpad/internal/protocol"
)

// Delivery reports what a fan-out did
type Delivery struct {
	Recipients int
	Dropped    int
}

// Broadcaster delivers messages to every member of a room. Messages are
// handed to each member's queue while the room is locked, so two broadcasts
// to one room reach every common member in the order they were issued. A
// member that refuses a message is skipped; it is that member's job to shut
// itself down.
type Broadcaster struct {
	reg *Registry
	log *zap.Logger
}

func NewBroadcaster(reg *Registry, log *zap.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, log: log}
}

// Broadcast sends msg to every member of roomID except exclude (may be nil)
func (b *Broadcaster) Broadcast(roomID string, msg protocol.Outbound, exclude Member) (Delivery, error) {
	var d Delivery
	err := b.reg.Atomically(roomID, func(tx *Tx) error {
		d = b.Fanout(tx, msg, exclude)
		return nil
	})
	return d, err
}

// Fanout is Broadcast for callers already inside a room transaction
func (b *Broadcaster) Fanout(tx *Tx, msg protocol.Outbound, exclude Member) Delivery {
	var d Delivery

	data, err := msg.Encode()
	if err != nil {
		b.log.Error("encode outbound", zap.String("room", tx.RoomID()), zap.String("type", string(msg.Type)), zap.Error(err))
		return d
	}

	for m := range tx.room.members {
		if m == exclude {
			continue
		}
		if m.Enqueue(data) {
			d.Recipients++
			continue
		}
		d.Dropped++
		metrics.DeliveriesDropped.Inc()
		b.log.Warn("delivery dropped",
			zap.String("room", tx.RoomID()),
			zap.String("member", m.ID()),
			zap.String("type", string(msg.Type)),
		)
	}
	return d
}
