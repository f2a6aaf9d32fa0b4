package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"canteen-sync/internal/domain/order"
)

type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Fulfillment     order.Fulfillment  `json:"fulfillment,omitempty" validate:"omitempty,oneof=delivery pickup"`
	DeliveryAddress string             `json:"deliveryAddress,omitempty" validate:"required_if=Fulfillment delivery"`
	Notes           string             `json:"notes,omitempty" validate:"max=500"`
}

type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

type PaymentRequest struct {
	Method string  `json:"method" validate:"required,oneof=card cash wallet"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

type Payment struct {
	ID      string  `json:"id"`
	OrderID string  `json:"orderId"`
	Method  string  `json:"method"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"`
}

// CreateOrder places an order and returns it as the backend stored it.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (order.Order, error) {
	if err := c.Validate(req); err != nil {
		return order.Order{}, err
	}
	var raw map[string]any
	if err := c.do(ctx, "POST", "/orders", req, &raw); err != nil {
		return order.Order{}, err
	}
	entity, err := unwrapOrder(raw)
	if err != nil {
		return order.Order{}, err
	}
	return order.FromEntity(entity)
}

func (c *Client) AddPayment(ctx context.Context, orderID string, req PaymentRequest) (Payment, error) {
	if orderID == "" {
		return Payment{}, order.ErrOrderIDRequired
	}
	if err := c.Validate(req); err != nil {
		return Payment{}, err
	}
	var p Payment
	err := c.do(ctx, "POST", "/orders/"+url.PathEscape(orderID)+"/payments", req, &p)
	return p, err
}

// ReadyOrders lists orders waiting for the driver at the kitchen. Each patch
// carries only the fields the backend sent.
func (c *Client) ReadyOrders(ctx context.Context, driverID string) ([]order.Patch, error) {
	var raws []map[string]any
	if err := c.do(ctx, "GET", "/drivers/"+url.PathEscape(driverID)+"/orders/ready", nil, &raws); err != nil {
		return nil, err
	}
	out := make([]order.Patch, 0, len(raws))
	for _, raw := range raws {
		o, err := decodePatch(raw)
		if err != nil {
			c.log.Warn(ctx, "http_bad_order", "skipping undecodable order", map[string]any{"error": err.Error()})
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type ManualPickupRequest struct {
	DriverID string `json:"driverId" validate:"required"`
}

// ConfirmManualPickup records a counter handoff the kitchen confirmed by hand.
func (c *Client) ConfirmManualPickup(ctx context.Context, orderID string, req ManualPickupRequest) (order.Patch, error) {
	if orderID == "" {
		return order.Patch{}, order.ErrOrderIDRequired
	}
	if err := c.Validate(req); err != nil {
		return order.Patch{}, err
	}
	var raw map[string]any
	if err := c.do(ctx, "POST", "/orders/"+url.PathEscape(orderID)+"/manual-pickup", req, &raw); err != nil {
		return order.Patch{}, err
	}
	return decodePatch(raw)
}

type DeliverRequest struct {
	DriverID         string `json:"driverId" validate:"required"`
	VerificationCode string `json:"driverVerificationCode,omitempty"`
}

func (c *Client) MarkDelivered(ctx context.Context, orderID string, req DeliverRequest) (order.Patch, error) {
	if orderID == "" {
		return order.Patch{}, order.ErrOrderIDRequired
	}
	if err := c.Validate(req); err != nil {
		return order.Patch{}, err
	}
	var raw map[string]any
	if err := c.do(ctx, "POST", "/orders/"+url.PathEscape(orderID)+"/deliver", req, &raw); err != nil {
		return order.Patch{}, err
	}
	return decodePatch(raw)
}

// unwrapOrder accepts both {"order": {...}} and a bare order.
func unwrapOrder(raw map[string]any) (map[string]any, error) {
	if nested, ok := raw["order"].(map[string]any); ok {
		raw = nested
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty order", ErrUnexpectedResponse)
	}
	return raw, nil
}

func decodePatch(raw map[string]any) (order.Patch, error) {
	entity, err := unwrapOrder(raw)
	if err != nil {
		return order.Patch{}, err
	}
	return order.PatchFromEntity(entity)
}

func decodePatchJSON(data json.RawMessage) (*order.Patch, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	p, err := decodePatch(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
