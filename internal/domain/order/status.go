package order

import (
	"errors"
	"strings"
)

// Status is an order status as reported by the backend.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusPickedUp       Status = "picked_up"
	StatusCancelled      Status = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid order status")

// ParseStatus normalizes (lowercases+trims, '-' and ' ' to '_') and validates a status string.
func ParseStatus(in string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(in))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if normalized == "canceled" {
		normalized = string(StatusCancelled)
	}

	status := Status(normalized)
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed order status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusDelivered, StatusPickedUp, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// Terminal indicates if the status ends the lifecycle.
func (status Status) Terminal() bool {
	return status == StatusDelivered || status == StatusPickedUp || status == StatusCancelled
}

// rank is the position of the status on the forward path.
// picked_up shares the out_for_delivery slot because both leave ready.
func (status Status) rank() int {
	switch status {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusPreparing:
		return 2
	case StatusReady:
		return 3
	case StatusOutForDelivery, StatusPickedUp:
		return 4
	case StatusDelivered:
		return 5
	default:
		return -1
	}
}

// CanTransitionTo reports whether next is reachable from status on the forward
// graph. Intermediate steps may be skipped (a missed push event is repaired by a
// later refresh), going backwards never is.
//
//	pending -> confirmed -> preparing -> ready -> out_for_delivery -> delivered
//	                                     ready -> picked_up | delivered (counter pickup)
//	any non-terminal -> cancelled
func (status Status) CanTransitionTo(next Status, fulfillment Fulfillment) bool {
	if !status.Valid() || !next.Valid() || status.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}

	switch next {
	case StatusPickedUp:
		if fulfillment == FulfillmentDelivery {
			return false
		}
	case StatusOutForDelivery:
		if fulfillment == FulfillmentPickup {
			return false
		}
	}

	return next.rank() > status.rank()
}
