package driver

import (
	"time"

	"canteen-sync/internal/domain/geo"
)

// Driver is the driver profile as returned by the backend.
type Driver struct {
	ID                string      `json:"id"`
	Name              string      `json:"name,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	Status            Status      `json:"status"`
	CurrentOrders     []string    `json:"currentOrders,omitempty"`
	LastKnownLocation *geo.Sample `json:"lastKnownLocation,omitempty"`
	UpdatedAt         time.Time   `json:"updatedAt,omitempty"`
}

// IsAvailable reports whether the driver can take a new order.
func (driver *Driver) IsAvailable() bool {
	return driver.Status == StatusAvailable
}
