package dispatch

import (
	"slices"

	"canteen-sync/internal/domain/event"
)

// Route describes how one wire name is canonicalized.
type Route struct {
	// Types are emitted in order, narrowest first.
	Types []event.Type
	// Action is used unless the payload carries its own "action".
	Action event.Action
	// Keys are named wrapper keys that may hold the entity, e.g. {"order": {...}}.
	Keys []string
	// IDKeys are copied into "id" when the entity has none, e.g. "orderId".
	IDKeys []string
	// NeedsID drops frames whose entity has no id.
	NeedsID bool
}

var (
	orderKeys   = []string{"order", "delivery"}
	orderIDKeys = []string{"orderId", "order_id"}
)

func orderRoute(action event.Action, types ...event.Type) Route {
	return Route{Types: types, Action: action, Keys: orderKeys, IDKeys: orderIDKeys, NeedsID: true}
}

func entityRoute(key string, action event.Action, types ...event.Type) Route {
	return Route{Types: types, Action: action, Keys: []string{key}, IDKeys: []string{key + "Id"}, NeedsID: true}
}

func looseRoute(key string, action event.Action, types ...event.Type) Route {
	return Route{Types: types, Action: action, Keys: []string{key}}
}

// wireTable maps every server frame name to its canonical fan-out. Adding a new
// server event is a single entry here.
var wireTable = map[string]Route{
	// orders and delivery
	"orderCreated":        orderRoute(event.ActionCreated, event.TypeOrderCreated, event.TypeOrdersChanged),
	"orderUpdated":        orderRoute(event.ActionUpdated, event.TypeOrderUpdated, event.TypeOrderStatusChanged, event.TypeOrdersChanged),
	"orderStatusUpdate":   orderRoute(event.ActionStatusChanged, event.TypeOrderStatusChanged, event.TypeOrderUpdated, event.TypeOrdersChanged),
	"orderCancelled":      orderRoute(event.ActionCancelled, event.TypeOrderStatusChanged, event.TypeOrdersChanged),
	"orderDeleted":        orderRoute(event.ActionDeleted, event.TypeOrderDeleted, event.TypeOrdersChanged),
	"deliveryAssigned":    orderRoute(event.ActionAssigned, event.TypeDeliveryAssigned, event.TypeOrderUpdated),
	"deliveryStarted":     orderRoute(event.ActionStarted, event.TypeDeliveryStarted, event.TypeOrderStatusChanged),
	"deliveryCompleted":   orderRoute(event.ActionCompleted, event.TypeDeliveryCompleted, event.TypeOrderStatusChanged),
	"orderReadyForPickup": orderRoute(event.ActionReadyForPickup, event.TypeOrderReadyForPickup, event.TypeOrderStatusChanged),
	"driverLocationUpdate": {
		Types:   []event.Type{event.TypeDriverLocationUpdated},
		Action:  event.ActionUpdated,
		Keys:    []string{"location", "driver"},
		IDKeys:  []string{"driverId", "driver_id"},
		NeedsID: true,
	},
	"driverStatusUpdate": entityRoute("driver", event.ActionStatusChanged, event.TypeDriverStatusChanged),

	// catalog
	"productCreated":             entityRoute("product", event.ActionCreated, event.TypeProductCreated, event.TypeProductsChanged),
	"productUpdated":             entityRoute("product", event.ActionUpdated, event.TypeProductUpdated, event.TypeProductsChanged),
	"productDeleted":             entityRoute("product", event.ActionDeleted, event.TypeProductDeleted, event.TypeProductsChanged),
	"productAvailabilityToggled": entityRoute("product", event.ActionAvailabilityToggled, event.TypeProductAvailabilityToggled, event.TypeProductUpdated, event.TypeProductsChanged),
	"categoryCreated":            entityRoute("category", event.ActionCreated, event.TypeCategoryCreated, event.TypeCategoriesChanged),
	"categoryUpdated":            entityRoute("category", event.ActionUpdated, event.TypeCategoryUpdated, event.TypeCategoriesChanged),
	"categoryDeleted":            entityRoute("category", event.ActionDeleted, event.TypeCategoryDeleted, event.TypeCategoriesChanged),

	// accounts
	"userCreated":       entityRoute("user", event.ActionCreated, event.TypeUserCreated, event.TypeUsersChanged),
	"userUpdated":       entityRoute("user", event.ActionUpdated, event.TypeUserUpdated, event.TypeUsersChanged),
	"userDeleted":       entityRoute("user", event.ActionDeleted, event.TypeUserDeleted, event.TypeUsersChanged),
	"userStatusChanged": entityRoute("user", event.ActionStatusChanged, event.TypeUserStatusChanged, event.TypeUserUpdated, event.TypeUsersChanged),

	// payments
	"paymentProcessed": entityRoute("payment", event.ActionProcessed, event.TypePaymentProcessed, event.TypePaymentsChanged),
	"paymentFailed":    entityRoute("payment", event.ActionFailed, event.TypePaymentFailed, event.TypePaymentsChanged),
	"refundProcessed":  entityRoute("payment", event.ActionRefunded, event.TypeRefundProcessed, event.TypePaymentsChanged),

	// chat
	"newMessage":        looseRoute("message", event.ActionMessage, event.TypeChatMessage),
	"messageDelivered":  looseRoute("message", event.ActionDelivered, event.TypeMessageDelivered),
	"messageRead":       looseRoute("message", event.ActionRead, event.TypeMessageRead),
	"userTyping":        looseRoute("typing", event.ActionTypingStarted, event.TypeTypingStarted),
	"userStoppedTyping": looseRoute("typing", event.ActionTypingStopped, event.TypeTypingStopped),

	// broadcasts
	"notification":       looseRoute("notification", event.ActionCreated, event.TypeNotificationCreated),
	"systemAnnouncement": looseRoute("announcement", event.ActionAnnounced, event.TypeSystemAnnouncement),
	"analyticsUpdate":    looseRoute("analytics", event.ActionUpdated, event.TypeAnalyticsUpdated),
	"salesUpdate":        looseRoute("sales", event.ActionUpdated, event.TypeSalesUpdated),
	wireDataUpdate:       looseRoute("payload", event.ActionUpdated, event.TypeDataUpdated),
}

// wireDataUpdate is additionally re-emitted as "<type>Updated".
const wireDataUpdate = "dataUpdate"

// Lookup returns the route for a wire name.
func Lookup(wire string) (Route, bool) {
	r, ok := wireTable[wire]
	return r, ok
}

// WireNames lists every known wire name, sorted.
func WireNames() []string {
	names := make([]string, 0, len(wireTable))
	for name := range wireTable {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// PrimaryTypes lists the first type of every route, sorted and without
// duplicates. Subscribing to all of them sees each known frame exactly once.
func PrimaryTypes() []event.Type {
	types := make([]event.Type, 0, len(wireTable))
	for _, r := range wireTable {
		if len(r.Types) > 0 {
			types = append(types, r.Types[0])
		}
	}
	slices.Sort(types)
	return slices.Compact(types)
}
