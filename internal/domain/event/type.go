package event

import "strings"

// Type is a canonical local event name. Listeners subscribe to these, never to
// wire names.
type Type string

// Connection notifications emitted by the connection manager.
const (
	TypeConnected       Type = "connected"
	TypeDisconnected    Type = "disconnected"
	TypeReconnecting    Type = "reconnecting"
	TypeConnectionError Type = "connectionError"
)

// Orders and delivery.
const (
	TypeOrderCreated          Type = "orderCreated"
	TypeOrderUpdated          Type = "orderUpdated"
	TypeOrderStatusChanged    Type = "orderStatusChanged"
	TypeOrderDeleted          Type = "orderDeleted"
	TypeOrdersChanged         Type = "ordersChanged"
	TypeDeliveryAssigned      Type = "deliveryAssigned"
	TypeDeliveryStarted       Type = "deliveryStarted"
	TypeDeliveryCompleted     Type = "deliveryCompleted"
	TypeOrderReadyForPickup   Type = "orderReadyForPickup"
	TypeDriverLocationUpdated Type = "driverLocationUpdated"
	TypeDriverStatusChanged   Type = "driverStatusChanged"
)

// Catalog and accounts.
const (
	TypeProductCreated             Type = "productCreated"
	TypeProductUpdated             Type = "productUpdated"
	TypeProductDeleted             Type = "productDeleted"
	TypeProductAvailabilityToggled Type = "productAvailabilityToggled"
	TypeProductsChanged            Type = "productsChanged"
	TypeCategoryCreated            Type = "categoryCreated"
	TypeCategoryUpdated            Type = "categoryUpdated"
	TypeCategoryDeleted            Type = "categoryDeleted"
	TypeCategoriesChanged          Type = "categoriesChanged"
	TypeUserCreated                Type = "userCreated"
	TypeUserUpdated                Type = "userUpdated"
	TypeUserDeleted                Type = "userDeleted"
	TypeUserStatusChanged          Type = "userStatusChanged"
	TypeUsersChanged               Type = "usersChanged"
)

// Payments.
const (
	TypePaymentProcessed Type = "paymentProcessed"
	TypePaymentFailed    Type = "paymentFailed"
	TypeRefundProcessed  Type = "refundProcessed"
	TypePaymentsChanged  Type = "paymentsChanged"
)

// Chat.
const (
	TypeChatMessage      Type = "chatMessage"
	TypeMessageDelivered Type = "messageDelivered"
	TypeMessageRead      Type = "messageRead"
	TypeTypingStarted    Type = "typingStarted"
	TypeTypingStopped    Type = "typingStopped"
)

// Broadcasts and dashboards.
const (
	TypeNotificationCreated Type = "notificationCreated"
	TypeSystemAnnouncement  Type = "systemAnnouncement"
	TypeAnalyticsUpdated    Type = "analyticsUpdated"
	TypeSalesUpdated        Type = "salesUpdated"
	TypeDataUpdated         Type = "dataUpdated"
)

// String returns the string representation of the Type.
func (t Type) String() string {
	return string(t)
}

// DataUpdateType derives the "<type>Updated" name for a generic dataUpdate frame,
// e.g. "menu" -> "menuUpdated". Empty or blank kinds yield "".
func DataUpdateType(kind string) Type {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return ""
	}
	kind = strings.TrimSuffix(kind, "Updated")
	return Type(kind + "Updated")
}
