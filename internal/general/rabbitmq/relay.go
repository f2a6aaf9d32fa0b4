package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/realtime/dispatch"

	"github.com/google/uuid"
)

// Publisher is satisfied by *Client.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	On(t event.Type, fn dispatch.Handler) dispatch.ListenerID
	Off(t event.Type, id dispatch.ListenerID) bool
}

// relayedTypes maps each forwarded canonical type to its routing prefix.
var relayedTypes = map[event.Type]string{
	event.TypeOrderCreated:        contracts.RouteOrderPrefix,
	event.TypeOrderUpdated:        contracts.RouteOrderPrefix,
	event.TypeOrderStatusChanged:  contracts.RouteOrderPrefix,
	event.TypeOrderDeleted:        contracts.RouteOrderPrefix,
	event.TypeDeliveryAssigned:    contracts.RouteOrderPrefix,
	event.TypeDeliveryStarted:     contracts.RouteOrderPrefix,
	event.TypeDeliveryCompleted:   contracts.RouteOrderPrefix,
	event.TypeOrderReadyForPickup: contracts.RouteOrderPrefix,

	event.TypeDriverLocationUpdated: contracts.RouteDriverPrefix,
	event.TypeDriverStatusChanged:   contracts.RouteDriverPrefix,

	event.TypeProductCreated:             contracts.RouteCatalogPrefix,
	event.TypeProductUpdated:             contracts.RouteCatalogPrefix,
	event.TypeProductDeleted:             contracts.RouteCatalogPrefix,
	event.TypeProductAvailabilityToggled: contracts.RouteCatalogPrefix,
	event.TypeCategoryCreated:            contracts.RouteCatalogPrefix,
	event.TypeCategoryUpdated:            contracts.RouteCatalogPrefix,
	event.TypeCategoryDeleted:            contracts.RouteCatalogPrefix,

	event.TypePaymentProcessed: contracts.RouteEventPrefix,
	event.TypePaymentFailed:    contracts.RouteEventPrefix,
	event.TypeRefundProcessed:  contracts.RouteEventPrefix,
	event.TypeUserCreated:      contracts.RouteEventPrefix,
	event.TypeUserUpdated:      contracts.RouteEventPrefix,
	event.TypeUserDeleted:      contracts.RouteEventPrefix,
}

// RoutingKey is "<prefix><type>.<action>", e.g. order.orderUpdated.updated.
func RoutingKey(ev event.Event) (string, bool) {
	prefix, ok := relayedTypes[ev.Type]
	if !ok {
		return "", false
	}
	action := string(ev.Action)
	if action == "" {
		action = "none"
	}
	return prefix + ev.Type.String() + "." + action, true
}

// EventRelay forwards canonical events to the broker. Listeners only enqueue;
// a single worker publishes, so a slow broker never stalls the realtime
// channel. When the queue is full the event is dropped and logged.
type EventRelay struct {
	pub      Publisher
	producer string
	log      *logger.Logger

	queue chan contracts.RelayedEvent
	wg    sync.WaitGroup

	mu     sync.Mutex
	sub    Subscriber
	ids    map[event.Type]dispatch.ListenerID
	closed bool
}

func NewEventRelay(pub Publisher, producer string, buffer int, log *logger.Logger) *EventRelay {
	if log == nil {
		log = logger.Discard()
	}
	if buffer <= 0 {
		buffer = 256
	}
	r := &EventRelay{
		pub:      pub,
		producer: producer,
		log:      log,
		queue:    make(chan contracts.RelayedEvent, buffer),
		ids:      make(map[event.Type]dispatch.ListenerID),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Bind subscribes the relay to every forwarded type.
func (r *EventRelay) Bind(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sub = sub
	for t := range relayedTypes {
		r.ids[t] = sub.On(t, r.handle)
	}
}

// Close unsubscribes, publishes what is queued and stops the worker.
func (r *EventRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for t, id := range r.ids {
		r.sub.Off(t, id)
	}
	r.ids = nil
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *EventRelay) handle(ctx context.Context, ev event.Event) error {
	// one frame fans out to several types; forward it once, as its primary type
	if route, ok := dispatch.Lookup(ev.Wire); ok && len(route.Types) > 0 && route.Types[0] != ev.Type {
		return nil
	}

	msg := contracts.RelayedEvent{
		Type:       ev.Type.String(),
		Action:     string(ev.Action),
		EntityID:   ev.ID(),
		Entity:     ev.Entity,
		Wire:       ev.Wire,
		ReceivedAt: ev.ReceivedAt,
		Envelope: contracts.Envelope{
			CorrelationID: contextx.GetRequestID(ctx),
			Producer:      r.producer,
			SentAt:        time.Now().UTC(),
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- msg:
	default:
		r.log.Warn(ctx, "relay_dropped", "relay queue full, event dropped", map[string]any{
			"type":      msg.Type,
			"entity_id": msg.EntityID,
		})
	}
	return nil
}

func (r *EventRelay) run() {
	defer r.wg.Done()
	for msg := range r.queue {
		r.publish(msg)
	}
}

func (r *EventRelay) publish(msg contracts.RelayedEvent) {
	ctx := contextx.WithRequestID(context.Background(), msg.CorrelationID)

	key, _ := RoutingKey(event.Event{Type: event.Type(msg.Type), Action: event.Action(msg.Action)})
	body, err := json.Marshal(msg)
	if err != nil {
		r.log.Error(ctx, "relay_encode_failed", "could not encode event", err, map[string]any{"type": msg.Type})
		return
	}

	err = r.pub.Publish(ctx, Message{
		RoutingKey:    key,
		Body:          body,
		MessageID:     uuid.NewString(),
		CorrelationID: msg.CorrelationID,
		Type:          msg.Type,
		Timestamp:     msg.SentAt,
	})
	if err != nil {
		r.log.Warn(ctx, "relay_publish_failed", "event not relayed", map[string]any{
			"routing_key": key,
			"entity_id":   msg.EntityID,
			"error":       err.Error(),
		})
		return
	}
	r.log.Debug(ctx, "relay_published", "event relayed", map[string]any{"routing_key": key, "entity_id": msg.EntityID})
}
