package postgres

import (
	"context"
	"time"

	"canteen-sync/internal/domain/geo"
)

// LocationHistoryRepo archives reported driver positions.
type LocationHistoryRepo struct {
	uow *UnitOfWork
}

func NewLocationHistoryRepo(uow *UnitOfWork) *LocationHistoryRepo {
	return &LocationHistoryRepo{uow: uow}
}

// Report archives one sample. It has the tracking reporter signature so it can
// sit behind the backend reporter.
func (repo *LocationHistoryRepo) Report(ctx context.Context, driverID string, s geo.Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return repo.uow.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := MustTxFromContext(ctx)
		if err != nil {
			return err
		}

		recordedAt := s.CapturedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		var accuracy any
		if s.Accuracy > 0 {
			accuracy = s.Accuracy
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO location_history (driver_id, latitude, longitude, accuracy_meters, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
		`, driverID, s.Latitude, s.Longitude, accuracy, recordedAt)
		return err
	})
}
