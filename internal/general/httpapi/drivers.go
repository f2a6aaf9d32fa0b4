package httpapi

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/geo"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/general/contracts"
)

type VerifyPickupRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	PickupCode string `json:"pickupCode" validate:"len=6,number"`
	DriverID   string `json:"driverId" validate:"required"`
}

// VerifyPickupResponse is {success, message, order?, driver?}. Order is nil
// when the backend only acknowledged; otherwise it holds just the fields sent.
type VerifyPickupResponse struct {
	Success bool
	Message string
	Order   *order.Patch
	Driver  *driver.Driver
}

// VerifyPickup sends the code verbatim. A rejected code comes back as *APIError.
func (c *Client) VerifyPickup(ctx context.Context, req VerifyPickupRequest) (VerifyPickupResponse, error) {
	if err := c.Validate(req); err != nil {
		return VerifyPickupResponse{}, err
	}

	var body struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Order   json.RawMessage `json:"order"`
		Driver  *driver.Driver  `json:"driver"`
	}
	if err := c.do(ctx, "POST", "/drivers/verify-pickup", req, &body); err != nil {
		return VerifyPickupResponse{}, err
	}

	o, err := decodePatchJSON(body.Order)
	if err != nil {
		return VerifyPickupResponse{}, err
	}
	return VerifyPickupResponse{Success: true, Message: body.Message, Order: o, Driver: body.Driver}, nil
}

// UpdateDriverLocation reports one position sample.
func (c *Client) UpdateDriverLocation(ctx context.Context, driverID string, s geo.Sample) error {
	payload := contracts.DriverLocationPayload{
		DriverID:  driverID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: s.CapturedAt,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	if err := c.Validate(payload); err != nil {
		return err
	}
	return c.do(ctx, "PUT", "/drivers/"+url.PathEscape(driverID)+"/location", payload, nil)
}

func (c *Client) UpdateDriverStatus(ctx context.Context, driverID string, status driver.Status) (driver.Driver, error) {
	payload := contracts.DriverStatusPayload{DriverID: driverID, Status: status.String()}
	if err := c.Validate(payload); err != nil {
		return driver.Driver{}, err
	}
	var d driver.Driver
	err := c.do(ctx, "PUT", "/drivers/"+url.PathEscape(driverID)+"/status", payload, &d)
	return d, err
}

func (c *Client) GetDriver(ctx context.Context, driverID string) (driver.Driver, error) {
	var d driver.Driver
	err := c.do(ctx, "GET", "/drivers/"+url.PathEscape(driverID), nil, &d)
	return d, err
}

type LoginRequest struct {
	Phone    string `json:"phone,omitempty" validate:"required_without=Email"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type AuthResponse struct {
	Token  string        `json:"token"`
	Driver driver.Driver `json:"driver"`
}

func (c *Client) DriverLogin(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	if err := c.Validate(req); err != nil {
		return AuthResponse{}, err
	}
	var out AuthResponse
	err := c.do(ctx, "POST", "/drivers/login", req, &out)
	return out, err
}

func (c *Client) DriverRegister(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	if err := c.Validate(req); err != nil {
		return AuthResponse{}, err
	}
	var out AuthResponse
	err := c.do(ctx, "POST", "/drivers/register", req, &out)
	return out, err
}
