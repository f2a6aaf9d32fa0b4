package tracking

import (
	"context"
	"errors"
	"time"

	"canteen-sync/internal/domain/geo"
	"canteen-sync/internal/general/config"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/logger"
)

type LocationUpdater interface {
	UpdateDriverLocation(ctx context.Context, driverID string, s geo.Sample) error
}

// HTTPReporter reports through PUT /drivers/{id}/location.
type HTTPReporter struct {
	Client LocationUpdater
}

func (r HTTPReporter) Report(ctx context.Context, driverID string, s geo.Sample) error {
	return r.Client.UpdateDriverLocation(ctx, driverID, s)
}

type FrameSender interface {
	Send(frameType string, payload any) error
}

// ChannelReporter reports with an updateDriverLocation frame on the realtime
// channel.
type ChannelReporter struct {
	Sender FrameSender
}

func (r ChannelReporter) Report(_ context.Context, driverID string, s geo.Sample) error {
	ts := s.CapturedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return r.Sender.Send(contracts.FrameUpdateDriverLocation, contracts.DriverLocationPayload{
		DriverID:  driverID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: ts,
	})
}

// NewReporter picks the reporter for the configured transport.
func NewReporter(transport string, client LocationUpdater, sender FrameSender) Reporter {
	if transport == config.TransportChannel {
		return ChannelReporter{Sender: sender}
	}
	return HTTPReporter{Client: client}
}

// Archived reports to the backend first and, once accepted, copies the sample
// to archive. Archive failures are logged and never fail the report.
type Archived struct {
	Primary Reporter
	Archive Reporter
	Log     *logger.Logger
}

func (r Archived) Report(ctx context.Context, driverID string, s geo.Sample) error {
	if err := r.Primary.Report(ctx, driverID, s); err != nil {
		return err
	}
	if err := r.Archive.Report(ctx, driverID, s); err != nil && r.Log != nil {
		r.Log.Warn(ctx, "tracking_archive_failed", "location not archived", map[string]any{
			"driver_id": driverID,
			"error":     err.Error(),
		})
	}
	return nil
}

// Multi reports to every reporter in order and joins their errors. A failing
// reporter does not stop the rest.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, driverID string, s geo.Sample) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, driverID, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
