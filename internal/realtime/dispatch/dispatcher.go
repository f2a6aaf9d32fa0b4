package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/general/logger"
)

// Handler receives one canonical event. A returned error is logged and does not
// affect other handlers.
type Handler func(ctx context.Context, ev event.Event) error

// ListenerID identifies a registration for Off.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// Dispatcher is the local observer registry: canonical type -> ordered handlers.
type Dispatcher struct {
	log *logger.Logger
	now func() time.Time

	mu        sync.RWMutex
	listeners map[event.Type][]listener
	nextID    ListenerID
}

func New(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		listeners: make(map[event.Type][]listener),
	}
}

// On registers fn for t. Handlers run in registration order.
func (d *Dispatcher) On(t event.Type, fn Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.listeners[t] = append(d.listeners[t], listener{id: d.nextID, fn: fn})
	return d.nextID
}

// Off removes one registration. It reports whether anything was removed.
func (d *Dispatcher) Off(t event.Type, id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls := d.listeners[t]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, t)
		} else {
			d.listeners[t] = next
		}
		return true
	}
	return false
}

// RemoveAllListeners drops every handler for t, or every handler when t is empty.
func (d *Dispatcher) RemoveAllListeners(t event.Type) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t == "" {
		d.listeners = make(map[event.Type][]listener)
		return
	}
	delete(d.listeners, t)
}

func (d *Dispatcher) ListenerCount(t event.Type) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[t])
}

// Emit delivers ev as type t to every handler registered at the time of the
// call. Unknown types are a no-op.
func (d *Dispatcher) Emit(ctx context.Context, t event.Type, ev event.Event) {
	d.mu.RLock()
	snapshot := d.listeners[t]
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	ev.Type = t
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.now()
	}
	for _, l := range snapshot {
		copied := ev
		copied.Entity = maps.Clone(ev.Entity)
		d.call(ctx, l, copied)
	}
}

// Ingest canonicalizes one inbound frame and emits every type of its route.
// Unknown wire names are ignored. Frames without a usable entity are dropped;
// the returned error is informational.
func (d *Dispatcher) Ingest(ctx context.Context, wire string, data json.RawMessage) error {
	route, ok := Lookup(wire)
	if !ok {
		d.log.Debug(ctx, "dispatch_unknown_wire", "ignoring unknown frame", map[string]any{"wire": wire})
		return nil
	}

	f, err := normalize(data, route)
	if err != nil {
		d.log.Warn(ctx, "dispatch_drop", "dropping malformed frame", map[string]any{
			"wire":  wire,
			"error": err.Error(),
		})
		return fmt.Errorf("%s: %w", wire, err)
	}

	if wire == wireDataUpdate && f.kind != "" {
		if _, ok := f.entity["type"]; !ok {
			f.entity["type"] = f.kind
		}
	}

	ev := event.Event{
		Action:     f.action,
		Entity:     f.entity,
		Wire:       wire,
		ReceivedAt: d.now(),
	}
	for _, t := range route.Types {
		d.Emit(ctx, t, ev)
	}
	if wire == wireDataUpdate {
		if derived := event.DataUpdateType(f.kind); derived != "" && derived != event.TypeDataUpdated {
			d.Emit(ctx, derived, ev)
		}
	}
	return nil
}

func (d *Dispatcher) call(ctx context.Context, l listener, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "dispatch_listener_panic", "listener panicked", fmt.Errorf("%v", r), map[string]any{
				"type":  ev.Type,
				"stack": string(debug.Stack()),
			})
		}
	}()

	if err := l.fn(ctx, ev); err != nil {
		d.log.Error(ctx, "dispatch_listener_error", "listener failed", err, map[string]any{"type": ev.Type})
	}
}
