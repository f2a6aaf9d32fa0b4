package postgres

import (
	"context"
	"slices"
	"sync"

	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/software/orders"
)

// Snapshot is one order state to persist.
type Snapshot struct {
	Order         order.Order
	Source        string
	StatusChanged bool
	Removed       bool
}

// SnapshotWriter persists snapshots. OrderSnapshots is the pgx implementation.
type SnapshotWriter interface {
	Write(ctx context.Context, s Snapshot) error
}

// OrderSnapshots writes a snapshot and its status transition in one transaction.
type OrderSnapshots struct {
	uow  *UnitOfWork
	repo *OrderRepo
}

func NewOrderSnapshots(uow *UnitOfWork, repo *OrderRepo) *OrderSnapshots {
	return &OrderSnapshots{uow: uow, repo: repo}
}

func (w *OrderSnapshots) Write(ctx context.Context, s Snapshot) error {
	return w.uow.WithinTx(ctx, func(ctx context.Context) error {
		if s.Removed {
			return w.repo.Delete(ctx, s.Order.ID)
		}
		if err := w.repo.Upsert(ctx, s.Order, s.Source); err != nil {
			return err
		}
		if s.StatusChanged {
			return w.repo.AppendStatus(ctx, s.Order.ID, s.Order.Status, s.Source)
		}
		return nil
	})
}

// SnapshotSink mirrors order store changes into the database. Store observers
// only enqueue; one worker writes, in change order.
type SnapshotSink struct {
	w   SnapshotWriter
	log *logger.Logger

	queue chan Snapshot
	wg    sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	detaches []func()
}

func NewSnapshotSink(w SnapshotWriter, buffer int, log *logger.Logger) *SnapshotSink {
	if log == nil {
		log = logger.Discard()
	}
	if buffer <= 0 {
		buffer = 256
	}
	s := &SnapshotSink{w: w, log: log, queue: make(chan Snapshot, buffer)}
	s.wg.Add(1)
	go s.run()
	return s
}

// Attach observes store until Close.
func (s *SnapshotSink) Attach(store *orders.Store) {
	detach := store.OnChange(s.observe)
	s.mu.Lock()
	s.detaches = append(s.detaches, detach)
	s.mu.Unlock()
}

// Close detaches from every store, writes what is queued and stops.
func (s *SnapshotSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detaches := s.detaches
	s.detaches = nil
	s.mu.Unlock()

	for _, detach := range detaches {
		detach()
	}

	s.mu.Lock()
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SnapshotSink) observe(ctx context.Context, c orders.Change) {
	snap := Snapshot{
		Order:         c.Order.Clone(),
		Source:        string(c.Source),
		StatusChanged: c.Created || c.Reset || slices.Contains(c.Changed, order.FieldStatus),
		Removed:       c.Removed,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- snap:
	default:
		s.log.Warn(ctx, "snapshot_dropped", "snapshot queue full, change dropped", map[string]any{"order_id": snap.Order.ID})
	}
}

func (s *SnapshotSink) run() {
	defer s.wg.Done()
	for snap := range s.queue {
		ctx := context.Background()
		if err := s.w.Write(ctx, snap); err != nil {
			s.log.Error(ctx, "snapshot_write_failed", "order snapshot not persisted", err, map[string]any{"order_id": snap.Order.ID})
		}
	}
}
