// Package persist moves room content to the store off the edit path.
package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/pairpad/internal/metrics"
	"github.com/manpreetbhatti/pairpad/internal/store"
)

const (
	saveTimeout   = 5 * time.Second
	flushParallel = 4
)

// Backend is the part of store.Store the writer needs
type Backend interface {
	store.Loader
	store.Saver
}

// WriteBehind keeps only the latest content per room and writes it on a
// ticker. Pending memory is bounded by the number of rooms edited within one
// interval. It is also a store.Loader that answers from unsaved content
// first, so a room reloaded right after eviction sees its last edit.
type WriteBehind struct {
	backend  Backend
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	pending  map[string]string
	inflight map[string]string

	flushMu sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(backend Backend, interval time.Duration, log *zap.Logger) *WriteBehind {
	return &WriteBehind{
		backend:  backend,
		interval: interval,
		log:      log,
		pending:  make(map[string]string),
		inflight: make(map[string]string),
		stop:     make(chan struct{}),
	}
}

// Enqueue records code as the room's newest content. It never blocks on the
// store.
func (w *WriteBehind) Enqueue(roomID, code string) {
	w.mu.Lock()
	w.pending[roomID] = code
	n := len(w.pending)
	w.mu.Unlock()
	metrics.PersistPending.Set(float64(n))
}

func (w *WriteBehind) LoadContent(ctx context.Context, roomID string) (string, error) {
	w.mu.Lock()
	if code, ok := w.pending[roomID]; ok {
		w.mu.Unlock()
		return code, nil
	}
	if code, ok := w.inflight[roomID]; ok {
		w.mu.Unlock()
		return code, nil
	}
	w.mu.Unlock()

	return w.backend.LoadContent(ctx, roomID)
}

func (w *WriteBehind) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("write-behind started", zap.Duration("interval", w.interval))
}

// Stop ends the ticker and writes whatever is still pending
func (w *WriteBehind) Stop() {
	close(w.stop)
	w.wg.Wait()
	w.log.Info("write-behind stopped")
}

func (w *WriteBehind) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(context.Background())
		}
	}
}

// Flush writes every pending room and returns how many writes failed.
// Failed content is dropped; the live room still holds it and the next
// edit will be queued again.
func (w *WriteBehind) Flush(ctx context.Context) int {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return 0
	}
	batch := w.pending
	w.pending = make(map[string]string)
	for id, code := range batch {
		w.inflight[id] = code
	}
	w.mu.Unlock()
	metrics.PersistPending.Set(0)

	var (
		failMu sync.Mutex
		failed int
	)
	g := new(errgroup.Group)
	g.SetLimit(flushParallel)
	for id, code := range batch {
		g.Go(func() error {
			if err := w.save(ctx, id, code); err != nil {
				metrics.PersistFailures.Inc()
				w.log.Warn("persist room content",
					zap.String("room", id),
					zap.Int("bytes", len(code)),
					zap.Error(err),
				)
				failMu.Lock()
				failed++
				failMu.Unlock()
			} else {
				metrics.PersistWrites.Inc()
			}

			w.mu.Lock()
			delete(w.inflight, id)
			w.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if failed == 0 {
		w.log.Debug("flushed rooms", zap.Int("rooms", len(batch)))
	}
	return failed
}

func (w *WriteBehind) save(ctx context.Context, roomID, code string) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	return w.backend.SaveContent(ctx, roomID, code)
}
