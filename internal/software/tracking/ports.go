package tracking

import (
	"context"

	"canteen-sync/internal/domain/geo"
)

// PositionSource is the device positioning service.
type PositionSource interface {
	// RequestPermissions asks for foreground and background access.
	RequestPermissions(ctx context.Context) (foreground, background bool, err error)
	// CurrentPosition takes one high-accuracy fix.
	CurrentPosition(ctx context.Context) (geo.Sample, error)
	// Watch streams position changes until stop is called or ctx ends.
	Watch(ctx context.Context, fn func(geo.Sample)) (stop func(), err error)
}

// Reporter pushes one sample to the backend.
type Reporter interface {
	Report(ctx context.Context, driverID string, s geo.Sample) error
}

// Alerter surfaces a user-actionable failure.
type Alerter interface {
	Alert(ctx context.Context, err error)
}

type AlertFunc func(ctx context.Context, err error)

func (f AlertFunc) Alert(ctx context.Context, err error) { f(ctx, err) }
