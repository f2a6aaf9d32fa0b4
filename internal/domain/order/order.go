package order

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Item is a single order line.
type Item struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is the client-side view of an order.
type Order struct {
	ID                     string      `json:"id"`
	Status                 Status      `json:"status"`
	Fulfillment            Fulfillment `json:"fulfillment,omitempty"`
	DriverID               string      `json:"driverId,omitempty"`
	PickupCode             string      `json:"pickupCode,omitempty"`
	DriverVerificationCode string      `json:"driverVerificationCode,omitempty"`
	DeliveryAddress        string      `json:"deliveryAddress,omitempty"`
	Items                  []Item      `json:"items,omitempty"`
	TotalAmount            float64     `json:"totalAmount"`
	CreatedAt              time.Time   `json:"createdAt"`
	UpdatedAt              time.Time   `json:"updatedAt"`
}

var ErrOrderIDRequired = errors.New("order id is required")

// IsPickup reports whether the order is collected at the counter.
func (order *Order) IsPickup() bool {
	if order.Fulfillment == FulfillmentPickup {
		return true
	}
	return order.Fulfillment == FulfillmentUnknown && IsPickupCounterAddress(order.DeliveryAddress)
}

// Clone returns a deep copy safe to hand out of the store.
func (order Order) Clone() Order {
	order.Items = slices.Clone(order.Items)
	return order
}

// Field names a mergeable order attribute.
type Field string

const (
	FieldStatus                 Field = "status"
	FieldFulfillment            Field = "fulfillment"
	FieldDriverID               Field = "driverId"
	FieldPickupCode             Field = "pickupCode"
	FieldDriverVerificationCode Field = "driverVerificationCode"
	FieldDeliveryAddress        Field = "deliveryAddress"
	FieldItems                  Field = "items"
	FieldTotalAmount            Field = "totalAmount"
	FieldCreatedAt              Field = "createdAt"
	FieldUpdatedAt              Field = "updatedAt"
)

// Patch is a partial order; nil fields are absent from the update.
type Patch struct {
	ID                     string
	Status                 *Status
	Fulfillment            *Fulfillment
	DriverID               *string
	PickupCode             *string
	DriverVerificationCode *string
	DeliveryAddress        *string
	Items                  []Item
	HasItems               bool
	TotalAmount            *float64
	CreatedAt              *time.Time
	UpdatedAt              *time.Time
}

// PatchFromEntity reads a loosely shaped backend entity into a Patch.
// Unknown status strings are rejected.
func PatchFromEntity(entity map[string]any) (Patch, error) {
	var p Patch

	p.ID = idOf(entity, "id", "_id", "orderId", "order_id")
	if p.ID == "" {
		return Patch{}, ErrOrderIDRequired
	}

	if raw, ok := stringOf(entity, "status", "orderStatus"); ok {
		status, err := ParseStatus(raw)
		if err != nil {
			return Patch{}, err
		}
		p.Status = &status
	}
	if raw, ok := stringOf(entity, "fulfillment", "orderType", "deliveryType"); ok {
		f := ParseFulfillment(raw)
		p.Fulfillment = &f
	}

	if v, ok := stringOf(entity, "driverId", "driver_id", "assignedDriverId"); ok {
		p.DriverID = &v
	} else if nested, ok := entity["driver"].(map[string]any); ok {
		if id := idOf(nested, "id", "_id"); id != "" {
			p.DriverID = &id
		}
	}

	if v, ok := stringOf(entity, "pickupCode", "pickup_code"); ok {
		p.PickupCode = &v
	}
	if v, ok := stringOf(entity, "driverVerificationCode", "driver_verification_code"); ok {
		p.DriverVerificationCode = &v
	}

	if v, ok := stringOf(entity, "deliveryAddress", "delivery_address"); ok {
		p.DeliveryAddress = &v
	} else if nested, ok := entity["deliveryAddress"].(map[string]any); ok {
		if v, ok := stringOf(nested, "address", "street", "label"); ok {
			p.DeliveryAddress = &v
		}
	}

	if rawItems, ok := entity["items"].([]any); ok {
		p.HasItems = true
		p.Items = make([]Item, 0, len(rawItems))
		for _, raw := range rawItems {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			item := Item{ProductID: idOf(m, "productId", "product_id", "id", "_id")}
			if product, ok := m["product"].(map[string]any); ok && item.ProductID == "" {
				item.ProductID = idOf(product, "id", "_id")
			}
			item.Name, _ = stringOf(m, "name", "productName")
			if n, ok := numberOf(m, "quantity", "qty"); ok {
				item.Quantity = int(n)
			}
			if n, ok := numberOf(m, "price", "unitPrice"); ok {
				item.Price = n
			}
			p.Items = append(p.Items, item)
		}
	}

	if n, ok := numberOf(entity, "totalAmount", "total_amount", "total"); ok {
		p.TotalAmount = &n
	}
	if t, ok := timeOf(entity, "createdAt", "created_at"); ok {
		p.CreatedAt = &t
	}
	if t, ok := timeOf(entity, "updatedAt", "updated_at"); ok {
		p.UpdatedAt = &t
	}

	return p, nil
}

// Fields lists the fields present in the patch.
func (p Patch) Fields() []Field {
	var out []Field
	if p.Status != nil {
		out = append(out, FieldStatus)
	}
	if p.Fulfillment != nil {
		out = append(out, FieldFulfillment)
	}
	if p.DriverID != nil {
		out = append(out, FieldDriverID)
	}
	if p.PickupCode != nil {
		out = append(out, FieldPickupCode)
	}
	if p.DriverVerificationCode != nil {
		out = append(out, FieldDriverVerificationCode)
	}
	if p.DeliveryAddress != nil {
		out = append(out, FieldDeliveryAddress)
	}
	if p.HasItems {
		out = append(out, FieldItems)
	}
	if p.TotalAmount != nil {
		out = append(out, FieldTotalAmount)
	}
	if p.CreatedAt != nil {
		out = append(out, FieldCreatedAt)
	}
	if p.UpdatedAt != nil {
		out = append(out, FieldUpdatedAt)
	}
	return out
}

// ApplyField copies a single field from the patch onto the order.
func (order *Order) ApplyField(p Patch, field Field) {
	switch field {
	case FieldStatus:
		order.Status = *p.Status
	case FieldFulfillment:
		order.Fulfillment = *p.Fulfillment
	case FieldDriverID:
		order.DriverID = *p.DriverID
	case FieldPickupCode:
		order.PickupCode = *p.PickupCode
	case FieldDriverVerificationCode:
		order.DriverVerificationCode = *p.DriverVerificationCode
	case FieldDeliveryAddress:
		order.DeliveryAddress = *p.DeliveryAddress
	case FieldItems:
		order.Items = slices.Clone(p.Items)
	case FieldTotalAmount:
		order.TotalAmount = *p.TotalAmount
	case FieldCreatedAt:
		order.CreatedAt = *p.CreatedAt
	case FieldUpdatedAt:
		order.UpdatedAt = *p.UpdatedAt
	}
}

// ---- loose entity accessors ----

func idOf(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return formatNumberID(v)
		}
	}
	return ""
}

func stringOf(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func numberOf(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
	}
	return 0, false
}

func timeOf(m map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// FromEntity builds a full order from a loosely shaped backend entity.
func FromEntity(entity map[string]any) (Order, error) {
	p, err := PatchFromEntity(entity)
	if err != nil {
		return Order{}, err
	}
	o := Order{ID: p.ID}
	for _, field := range p.Fields() {
		o.ApplyField(p, field)
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	return o, nil
}
