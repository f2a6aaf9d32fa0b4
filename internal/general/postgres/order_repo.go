package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"canteen-sync/internal/domain/order"
)

// OrderRepo persists order snapshots and their status history with plain SQL.
// Every method runs inside UnitOfWork.WithinTx.
type OrderRepo struct{}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{}
}

// Upsert stores the latest merged state of o.
func (repo *OrderRepo) Upsert(ctx context.Context, o order.Order, source string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}

	var createdAt any
	if !o.CreatedAt.IsZero() {
		createdAt = o.CreatedAt
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_snapshots (
			id, status, fulfillment, driver_id, delivery_address,
			total_amount, payload, source, created_at, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			status           = EXCLUDED.status,
			fulfillment      = EXCLUDED.fulfillment,
			driver_id        = EXCLUDED.driver_id,
			delivery_address = EXCLUDED.delivery_address,
			total_amount     = EXCLUDED.total_amount,
			payload          = EXCLUDED.payload,
			source           = EXCLUDED.source,
			created_at       = COALESCE(EXCLUDED.created_at, order_snapshots.created_at),
			synced_at        = now()
	`,
		o.ID,
		o.Status.String(),
		string(o.Fulfillment),
		o.DriverID,
		o.DeliveryAddress,
		o.TotalAmount,
		payload,
		source,
		createdAt,
	)
	return err
}

// AppendStatus records one status transition.
func (repo *OrderRepo) AppendStatus(ctx context.Context, orderID string, status order.Status, source string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, source)
		VALUES ($1, $2, $3)
	`, orderID, status.String(), source)
	return err
}

func (repo *OrderRepo) Delete(ctx context.Context, orderID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM order_snapshots WHERE id = $1`, orderID)
	return err
}

// Get reads a stored snapshot back.
func (repo *OrderRepo) Get(ctx context.Context, orderID string) (order.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return order.Order{}, err
	}
	var payload []byte
	if err := tx.QueryRow(ctx, `SELECT payload FROM order_snapshots WHERE id = $1`, orderID).Scan(&payload); err != nil {
		return order.Order{}, err
	}
	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return order.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return o, nil
}
