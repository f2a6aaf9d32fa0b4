package contracts

// Exchanges
const (
	ExchangeCanteenTopic = "canteen_events"
)

// Routing patterns. Keys are "<prefix><canonical type>.<action>".
const (
	RouteOrderPrefix   = "order."
	RouteDriverPrefix  = "driver."
	RouteCatalogPrefix = "catalog."
	RouteEventPrefix   = "event."
)

// Queues
const (
	QueueKitchenDisplay = "kitchen_display"
)
