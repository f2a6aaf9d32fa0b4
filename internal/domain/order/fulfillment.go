package order

import "strings"

// Fulfillment tells how an order leaves the kitchen.
type Fulfillment string

const (
	FulfillmentUnknown  Fulfillment = ""
	FulfillmentDelivery Fulfillment = "delivery"
	FulfillmentPickup   Fulfillment = "pickup"
)

// ParseFulfillment maps backend spellings onto a Fulfillment. Unknown values map to FulfillmentUnknown.
func ParseFulfillment(in string) Fulfillment {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "delivery", "driver", "deliver":
		return FulfillmentDelivery
	case "pickup", "pick_up", "pick-up", "counter", "takeaway", "dine_in":
		return FulfillmentPickup
	default:
		return FulfillmentUnknown
	}
}

// pickupCounterMarkers are delivery addresses the app writes for counter orders.
var pickupCounterMarkers = []string{"pickup counter", "pick up at counter", "counter pickup", "canteen counter"}

// IsPickupCounterAddress reports whether the address denotes in-person pickup.
func IsPickupCounterAddress(address string) bool {
	a := strings.ToLower(strings.TrimSpace(address))
	for _, marker := range pickupCounterMarkers {
		if strings.Contains(a, marker) {
			return true
		}
	}
	return false
}
