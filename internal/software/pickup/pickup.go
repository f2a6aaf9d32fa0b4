package pickup

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/general/httpapi"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/software/orders"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidPickupCode = errors.New("pickup code must be exactly 6 digits")
	ErrPickupRejected    = errors.New("pickup code rejected")
	ErrMissingOrderID    = errors.New("order id is required")
	ErrMissingDriverID   = errors.New("driver id is required")
)

// codeRule is the only accepted pickup code shape: six ASCII digits.
const codeRule = "len=6,number"

type Backend interface {
	VerifyPickup(ctx context.Context, req httpapi.VerifyPickupRequest) (httpapi.VerifyPickupResponse, error)
	ConfirmManualPickup(ctx context.Context, orderID string, req httpapi.ManualPickupRequest) (order.Patch, error)
	MarkDelivered(ctx context.Context, orderID string, req httpapi.DeliverRequest) (order.Patch, error)
}

// Outcome is what a successful verification returned. Order is the merged
// local state and is nil when the backend sent no order.
type Outcome struct {
	Message string
	Order   *order.Order
	Driver  *driver.Driver
}

// Workflow is the driver-side handoff: verify the customer's code, then wait
// for the status the backend moves the order to.
type Workflow struct {
	backend  Backend
	store    *orders.Store
	validate *validator.Validate
	log      *logger.Logger
}

func NewWorkflow(backend Backend, store *orders.Store, log *logger.Logger) *Workflow {
	if log == nil {
		log = logger.Discard()
	}
	return &Workflow{
		backend:  backend,
		store:    store,
		validate: validator.New(),
		log:      log,
	}
}

// ValidateCode checks the code locally. It never touches the network.
func (w *Workflow) ValidateCode(code string) error {
	if err := w.validate.Var(code, codeRule); err != nil {
		return ErrInvalidPickupCode
	}
	return nil
}

// Verify sends the code verbatim. The order status is only changed by what the
// backend returns; a bare success leaves it alone.
func (w *Workflow) Verify(ctx context.Context, orderID, code, driverID string) (Outcome, error) {
	if err := w.ValidateCode(code); err != nil {
		return Outcome{}, err
	}
	if orderID == "" {
		return Outcome{}, ErrMissingOrderID
	}
	if driverID == "" {
		return Outcome{}, ErrMissingDriverID
	}
	ctx = contextx.WithOrderID(ctx, orderID)

	resp, err := w.backend.VerifyPickup(ctx, httpapi.VerifyPickupRequest{
		OrderID:    orderID,
		PickupCode: code,
		DriverID:   driverID,
	})
	if err != nil {
		if rejected := asRejection(err); rejected != nil {
			w.log.Info(ctx, "pickup_rejected", "backend rejected pickup code", map[string]any{"driver_id": driverID, "reason": rejected.Message})
			return Outcome{}, fmt.Errorf("%w: %w", ErrPickupRejected, rejected)
		}
		return Outcome{}, fmt.Errorf("verify pickup: %w", err)
	}

	out := Outcome{Message: resp.Message, Driver: resp.Driver}
	if resp.Order != nil {
		merged, err := w.merge(ctx, *resp.Order)
		if err != nil {
			return Outcome{}, err
		}
		if merged.ID != "" {
			out.Order = &merged
		}
	}
	w.log.Info(ctx, "pickup_verified", "pickup code accepted", map[string]any{"driver_id": driverID, "order_returned": resp.Order != nil})
	return out, nil
}

// AwaitOutForDelivery waits for the backend-confirmed out_for_delivery status.
func (w *Workflow) AwaitOutForDelivery(ctx context.Context, orderID string) (order.Order, error) {
	return w.store.AwaitStatus(ctx, orderID, order.StatusOutForDelivery)
}

// ConfirmManualPickup records a counter handoff without a code.
func (w *Workflow) ConfirmManualPickup(ctx context.Context, orderID, driverID string) (order.Order, error) {
	if orderID == "" {
		return order.Order{}, ErrMissingOrderID
	}
	if driverID == "" {
		return order.Order{}, ErrMissingDriverID
	}
	p, err := w.backend.ConfirmManualPickup(ctx, orderID, httpapi.ManualPickupRequest{DriverID: driverID})
	if err != nil {
		return order.Order{}, fmt.Errorf("manual pickup: %w", err)
	}
	return w.merge(contextx.WithOrderID(ctx, orderID), p)
}

// MarkDelivered closes a delivery order at the customer's door.
func (w *Workflow) MarkDelivered(ctx context.Context, orderID, driverID, verificationCode string) (order.Order, error) {
	if orderID == "" {
		return order.Order{}, ErrMissingOrderID
	}
	if driverID == "" {
		return order.Order{}, ErrMissingDriverID
	}
	p, err := w.backend.MarkDelivered(ctx, orderID, httpapi.DeliverRequest{DriverID: driverID, VerificationCode: verificationCode})
	if err != nil {
		return order.Order{}, fmt.Errorf("mark delivered: %w", err)
	}
	return w.merge(contextx.WithOrderID(ctx, orderID), p)
}

// merge applies only the fields the backend returned; anything it left out
// keeps its local value.
func (w *Workflow) merge(ctx context.Context, p order.Patch) (order.Order, error) {
	res, err := w.store.ApplyOrder(ctx, p)
	if err != nil {
		return order.Order{}, err
	}
	return res.Order, nil
}

// asRejection returns the API error when the backend refused the request
// itself, as opposed to failing.
func asRejection(err error) *httpapi.APIError {
	var apiErr *httpapi.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	if apiErr.Status >= http.StatusInternalServerError {
		return nil
	}
	return apiErr
}
