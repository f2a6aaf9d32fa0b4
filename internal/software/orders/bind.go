package orders

import (
	"context"
	"sync"
	"time"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/realtime/dispatch"
)

// Filter decides whether an order belongs to a view. Filters are pure.
type Filter func(o order.Order) bool

// DriverView keeps the driver's own delivery orders and drops counter pickups.
func DriverView(driverID string) Filter {
	return func(o order.Order) bool {
		return o.DriverID == driverID && !o.IsPickup()
	}
}

// ReadyForDrivers keeps unassigned or own ready delivery orders.
func ReadyForDrivers(driverID string) Filter {
	return func(o order.Order) bool {
		if o.IsPickup() {
			return false
		}
		return o.DriverID == driverID || (o.DriverID == "" && o.Status == order.StatusReady)
	}
}

type Subscriber interface {
	On(t event.Type, fn dispatch.Handler) dispatch.ListenerID
	Off(t event.Type, id dispatch.ListenerID) bool
}

// boundTypes are the canonical types carrying order data. One wire frame may
// fan out to several of them; Binding applies each frame once.
var boundTypes = []event.Type{
	event.TypeOrderCreated,
	event.TypeOrderUpdated,
	event.TypeOrderStatusChanged,
	event.TypeOrderDeleted,
	event.TypeDeliveryAssigned,
	event.TypeDeliveryStarted,
	event.TypeDeliveryCompleted,
	event.TypeOrderReadyForPickup,
}

// impliedStatus is the status a server event stands for when its entity does
// not carry one.
var impliedStatus = map[event.Action]order.Status{
	event.ActionReadyForPickup: order.StatusReady,
	event.ActionStarted:        order.StatusOutForDelivery,
	event.ActionCompleted:      order.StatusDelivered,
	event.ActionCancelled:      order.StatusCancelled,
}

// Binding feeds dispatcher events into a store.
type Binding struct {
	store  *Store
	sub    Subscriber
	filter Filter

	mu   sync.Mutex
	ids  map[event.Type]dispatch.ListenerID
	last appliedKey
}

type appliedKey struct {
	wire string
	id   string
	at   time.Time
}

// Bind subscribes the store to order events. A nil filter accepts everything.
func (s *Store) Bind(sub Subscriber, filter Filter) *Binding {
	b := &Binding{store: s, sub: sub, filter: filter, ids: make(map[event.Type]dispatch.ListenerID)}
	for _, t := range boundTypes {
		b.ids[t] = sub.On(t, b.handle)
	}
	return b
}

// Unbind removes every listener Bind registered.
func (b *Binding) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, id := range b.ids {
		b.sub.Off(t, id)
	}
	b.ids = map[event.Type]dispatch.ListenerID{}
}

func (b *Binding) handle(ctx context.Context, ev event.Event) error {
	key := appliedKey{wire: ev.Wire, id: ev.ID(), at: ev.ReceivedAt}
	b.mu.Lock()
	if ev.Wire != "" && key == b.last {
		b.mu.Unlock()
		return nil
	}
	b.last = key
	b.mu.Unlock()

	_, err := b.store.ApplyEvent(ctx, ev, b.filter)
	return err
}

// ApplyEvent converts a canonical event into an update and applies it through
// the view filter.
func (s *Store) ApplyEvent(ctx context.Context, ev event.Event, filter Filter) (Result, error) {
	patch, err := order.PatchFromEntity(ev.Entity)
	if err != nil {
		return Result{}, err
	}
	if patch.Status == nil {
		if status, ok := impliedStatus[ev.Action]; ok {
			if status == order.StatusDelivered && isPickupPatch(s, patch) {
				status = order.StatusPickedUp
			}
			patch.Status = &status
		}
	}

	u := Update{Action: ev.Action, Patch: patch, Source: SourcePush, ReceivedAt: ev.ReceivedAt}
	return s.ApplyFiltered(ctx, u, filter)
}

// ApplyFiltered applies u only if the merged order still belongs to the view.
// An order that leaves the view is removed.
func (s *Store) ApplyFiltered(ctx context.Context, u Update, filter Filter) (Result, error) {
	if filter == nil || u.Action.Removes() {
		return s.Apply(ctx, u)
	}

	preview, _ := s.Get(u.Patch.ID)
	preview.ID = u.Patch.ID
	for _, field := range u.Patch.Fields() {
		preview.ApplyField(u.Patch, field)
	}
	if filter(preview) {
		return s.Apply(ctx, u)
	}
	if _, ok := s.Get(u.Patch.ID); ok {
		return s.Remove(ctx, u.Patch.ID), nil
	}
	return Result{}, nil
}

// ApplyOrder merges an order returned by an HTTP call. Only the fields the
// response carried are touched.
func (s *Store) ApplyOrder(ctx context.Context, p order.Patch) (Result, error) {
	return s.Apply(ctx, Update{Action: event.ActionUpdated, Patch: p, Source: SourceHTTP})
}

func isPickupPatch(s *Store, p order.Patch) bool {
	cur, _ := s.Get(p.ID)
	return effectiveFulfillment(cur, p) == order.FulfillmentPickup
}
