package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/general/logger"
)

var (
	ErrNotFound    = errors.New("order not found")
	ErrOrderClosed = errors.New("order reached a terminal status")
)

// Source tells where server data came from.
type Source string

const (
	SourcePush Source = "push"
	SourceHTTP Source = "http"
)

// Update is one piece of server-confirmed order data.
type Update struct {
	Action     event.Action
	Patch      order.Patch
	Source     Source
	ReceivedAt time.Time
}

// Result describes what Apply did.
type Result struct {
	Order          order.Order
	Created        bool
	Reset          bool
	Removed        bool
	Changed        []order.Field
	StatusRejected bool
	// Rejected holds the status that was refused when StatusRejected is set.
	Rejected order.Status
	// Ignored is set when the update named an unknown order and carried no
	// status to place it with.
	Ignored bool
}

// Change is handed to observers after every effective mutation.
type Change struct {
	Result
	Source Source
}

type entry struct {
	order order.Order
	// stamps holds the receipt time of the value currently in each field.
	stamps map[order.Field]time.Time
}

// Store is the client-side order state. Every field carries the receipt time of
// the value that set it; an older value never overwrites a newer one, and the
// status only moves forward along the order graph.
type Store struct {
	log *logger.Logger
	now func() time.Time

	mu        sync.Mutex
	orders    map[string]*entry
	observers map[int]func(context.Context, Change)
	nextObs   int
}

func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		orders:    make(map[string]*entry),
		observers: make(map[int]func(context.Context, Change)),
	}
}

// Apply merges u into the store. Removing actions delegate to Remove.
func (s *Store) Apply(ctx context.Context, u Update) (Result, error) {
	p := u.Patch
	if p.ID == "" {
		return Result{}, order.ErrOrderIDRequired
	}
	if p.Status != nil && !p.Status.Valid() {
		return Result{}, fmt.Errorf("%w: %q", order.ErrInvalidStatus, *p.Status)
	}
	if u.Action.Removes() {
		return s.Remove(ctx, p.ID), nil
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = s.now()
	}
	ctx = contextx.WithOrderID(ctx, p.ID)

	s.mu.Lock()
	res := s.applyLocked(u)
	s.mu.Unlock()

	if res.Ignored {
		s.log.Debug(ctx, "order_update_ignored", "update for an unknown order without a status", map[string]any{
			"action": u.Action,
			"source": u.Source,
		})
		return res, nil
	}
	if res.StatusRejected {
		s.log.Warn(ctx, "order_status_rejected", "ignoring backward status move", map[string]any{
			"current":  res.Order.Status,
			"incoming": res.Rejected,
			"source":   u.Source,
		})
	}
	if res.Created || len(res.Changed) > 0 {
		s.notify(ctx, Change{Result: res, Source: u.Source})
	}
	return res, nil
}

func (s *Store) applyLocked(u Update) Result {
	p := u.Patch
	e, exists := s.orders[p.ID]

	var res Result
	switch {
	case !exists && u.Action != event.ActionCreated && p.Status == nil:
		return Result{Ignored: true}
	case !exists:
		e = &entry{order: order.Order{ID: p.ID}, stamps: make(map[order.Field]time.Time)}
		s.orders[p.ID] = e
		res.Created = true
	case u.Action == event.ActionCreated && e.order.Status.Terminal():
		// a new order reusing a closed id starts over
		e.order = order.Order{ID: p.ID}
		e.stamps = make(map[order.Field]time.Time)
		res.Reset = true
	}

	fulfillment := effectiveFulfillment(e.order, p)

	for _, field := range p.Fields() {
		if stamp, ok := e.stamps[field]; ok && stamp.After(u.ReceivedAt) {
			continue
		}

		if field == order.FieldStatus {
			cur, next := e.order.Status, *p.Status
			if cur != "" && cur != next && !cur.CanTransitionTo(next, fulfillment) {
				res.StatusRejected = true
				res.Rejected = next
				continue
			}
			if cur == next {
				e.stamps[field] = u.ReceivedAt
				continue
			}
		}

		before := e.order
		e.order.ApplyField(p, field)
		e.stamps[field] = u.ReceivedAt
		if fieldChanged(before, e.order, field) {
			res.Changed = append(res.Changed, field)
		}
	}

	// a created order starts the graph
	if e.order.Status == "" && u.Action == event.ActionCreated {
		e.order.Status = order.StatusPending
	}
	res.Order = e.order.Clone()
	return res
}

// Remove drops an order. It is a separate primitive from Apply so views can
// filter orders out without touching their status.
func (s *Store) Remove(ctx context.Context, id string) Result {
	s.mu.Lock()
	e, ok := s.orders[id]
	if ok {
		delete(s.orders, id)
	}
	s.mu.Unlock()

	if !ok {
		return Result{}
	}
	res := Result{Order: e.order.Clone(), Removed: true}
	s.notify(contextx.WithOrderID(ctx, id), Change{Result: res})
	return res
}

func (s *Store) Get(id string) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.orders[id]
	if !ok {
		return order.Order{}, false
	}
	return e.order.Clone(), true
}

// List returns every order, oldest first.
func (s *Store) List() []order.Order {
	s.mu.Lock()
	out := make([]order.Order, 0, len(s.orders))
	for _, e := range s.orders {
		out = append(out, e.order.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b order.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Clear drops all orders without notifying observers. Used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]*entry)
}

// OnChange registers an observer. Observers run outside the store lock, on the
// goroutine that applied the change. The returned func unregisters.
func (s *Store) OnChange(fn func(context.Context, Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// AwaitStatus blocks until the order reaches status, reaches a terminal status
// instead (ErrOrderClosed) or ctx ends.
func (s *Store) AwaitStatus(ctx context.Context, id string, status order.Status) (order.Order, error) {
	changes := make(chan order.Order, 16)
	unregister := s.OnChange(func(_ context.Context, c Change) {
		if c.Order.ID != id || c.Removed {
			return
		}
		select {
		case changes <- c.Order:
		default:
		}
	})
	defer unregister()

	check := func(o order.Order) (order.Order, bool, error) {
		switch {
		case o.Status == status:
			return o, true, nil
		case o.Status.Terminal():
			return o, true, fmt.Errorf("%w: %s", ErrOrderClosed, o.Status)
		}
		return o, false, nil
	}

	if o, ok := s.Get(id); ok {
		if o, done, err := check(o); done {
			return o, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return order.Order{}, ctx.Err()
		case <-changes:
			// the buffered copy may be stale; re-read the merged state
			o, ok := s.Get(id)
			if !ok {
				continue
			}
			if o, done, err := check(o); done {
				return o, err
			}
		}
	}
}

func (s *Store) notify(ctx context.Context, c Change) {
	s.mu.Lock()
	fns := make([]func(context.Context, Change), 0, len(s.observers))
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, c)
	}
}

func effectiveFulfillment(o order.Order, p order.Patch) order.Fulfillment {
	if p.Fulfillment != nil && *p.Fulfillment != order.FulfillmentUnknown {
		return *p.Fulfillment
	}
	if o.Fulfillment != order.FulfillmentUnknown {
		return o.Fulfillment
	}
	if p.DeliveryAddress != nil {
		o.DeliveryAddress = *p.DeliveryAddress
	}
	if o.IsPickup() {
		return order.FulfillmentPickup
	}
	return order.FulfillmentUnknown
}

func fieldChanged(before, after order.Order, field order.Field) bool {
	switch field {
	case order.FieldStatus:
		return before.Status != after.Status
	case order.FieldFulfillment:
		return before.Fulfillment != after.Fulfillment
	case order.FieldDriverID:
		return before.DriverID != after.DriverID
	case order.FieldPickupCode:
		return before.PickupCode != after.PickupCode
	case order.FieldDriverVerificationCode:
		return before.DriverVerificationCode != after.DriverVerificationCode
	case order.FieldDeliveryAddress:
		return before.DeliveryAddress != after.DeliveryAddress
	case order.FieldItems:
		return !slices.Equal(before.Items, after.Items)
	case order.FieldTotalAmount:
		return before.TotalAmount != after.TotalAmount
	case order.FieldCreatedAt:
		return !before.CreatedAt.Equal(after.CreatedAt)
	case order.FieldUpdatedAt:
		return !before.UpdatedAt.Equal(after.UpdatedAt)
	}
	return false
}
