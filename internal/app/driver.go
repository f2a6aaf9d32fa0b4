package app

import (
	"context"
	"fmt"

	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/realtime/rooms"
	"canteen-sync/internal/software/pickup"
)

func (s *Session) driverIdentity() (user.Identity, error) {
	identity, ok := s.Identity()
	if !ok {
		return user.Identity{}, ErrNotStarted
	}
	if !identity.Role.IsDriver() {
		return user.Identity{}, ErrNotDriver
	}
	return identity, nil
}

// StartTracking starts reporting the signed-in driver's location.
func (s *Session) StartTracking(ctx context.Context) error {
	identity, err := s.driverIdentity()
	if err != nil {
		return err
	}
	if s.tracker == nil {
		return ErrNoPositions
	}
	return s.tracker.Start(ctx, identity.UserID)
}

// SetTracking follows the driver's on/off switch.
func (s *Session) SetTracking(ctx context.Context, enabled bool) error {
	if s.tracker == nil {
		if enabled {
			return ErrNoPositions
		}
		return nil
	}
	if !enabled {
		s.tracker.Stop()
		return nil
	}
	identity, err := s.driverIdentity()
	if err != nil {
		return err
	}
	return s.tracker.SetEnabled(ctx, true, identity.UserID)
}

func (s *Session) StopTracking() {
	if s.tracker != nil {
		s.tracker.Stop()
	}
}

// RefreshReadyOrders loads the orders waiting for the driver and merges them
// into the store.
func (s *Session) RefreshReadyOrders(ctx context.Context) ([]order.Order, error) {
	identity, err := s.driverIdentity()
	if err != nil {
		return nil, err
	}
	ready, err := s.api.ReadyOrders(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("ready orders: %w", err)
	}
	merged := make([]order.Order, 0, len(ready))
	for _, p := range ready {
		res, err := s.store.ApplyOrder(ctx, p)
		if err != nil {
			s.log.Warn(ctx, "ready_order_skipped", "ready order not merged", map[string]any{"order_id": p.ID, "error": err.Error()})
			continue
		}
		if res.Ignored {
			continue
		}
		merged = append(merged, res.Order)
	}
	return merged, nil
}

// VerifyPickup hands the customer's code to the backend for the signed-in
// driver and follows the order room afterwards.
func (s *Session) VerifyPickup(ctx context.Context, orderID, code string) (pickup.Outcome, error) {
	identity, err := s.driverIdentity()
	if err != nil {
		return pickup.Outcome{}, err
	}
	out, err := s.pickup.Verify(ctx, orderID, code, identity.UserID)
	if err != nil {
		return pickup.Outcome{}, err
	}
	s.rooms.JoinOrderRoom(orderID)
	return out, nil
}

// MarkDelivered closes a delivery for the signed-in driver and leaves its room.
func (s *Session) MarkDelivered(ctx context.Context, orderID, verificationCode string) (order.Order, error) {
	identity, err := s.driverIdentity()
	if err != nil {
		return order.Order{}, err
	}
	o, err := s.pickup.MarkDelivered(ctx, orderID, identity.UserID, verificationCode)
	if err != nil {
		return order.Order{}, err
	}
	s.rooms.LeaveOrderRoom(orderID)
	return o, nil
}

// SetDriverStatus changes availability over HTTP and announces it on the
// channel when connected.
func (s *Session) SetDriverStatus(ctx context.Context, status driver.Status) (driver.Driver, error) {
	identity, err := s.driverIdentity()
	if err != nil {
		return driver.Driver{}, err
	}
	d, err := s.api.UpdateDriverStatus(ctx, identity.UserID, status)
	if err != nil {
		return driver.Driver{}, err
	}
	if err := s.conn.Send(contracts.FrameUpdateDriverStatus, contracts.DriverStatusPayload{
		DriverID: identity.UserID,
		Status:   status.String(),
	}); err != nil {
		s.log.Debug(ctx, "driver_status_not_sent", "status frame not sent", map[string]any{"error": err.Error()})
	}
	if status == driver.StatusOffline {
		s.rooms.LeaveDriverRoom()
	} else if !s.rooms.Has(rooms.DriverRoom) {
		s.rooms.JoinDriverRoom()
	}
	return d, nil
}
