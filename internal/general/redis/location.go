package redis

import (
	"context"

	"canteen-sync/internal/domain/geo"

	"github.com/redis/go-redis/v9"
)

const driverLocationKey = "canteen:drivers:locations"

// Nearby is one driver found by a radius query.
type Nearby struct {
	DriverID   string
	Latitude   float64
	Longitude  float64
	DistanceKm float64
}

// LocationIndex keeps the latest accepted position of every active driver in
// a GEO set. It satisfies tracking.Reporter.
type LocationIndex struct {
	client redis.Cmdable
	key    string
}

func NewLocationIndex(client redis.Cmdable) *LocationIndex {
	return &LocationIndex{client: client, key: driverLocationKey}
}

// Report stores the driver's position using GEOADD.
func (s *LocationIndex) Report(ctx context.Context, driverID string, sample geo.Sample) error {
	return s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: sample.Longitude,
		Latitude:  sample.Latitude,
	}).Err()
}

// Nearby returns drivers within radiusKm of the point, closest first.
func (s *LocationIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]Nearby, error) {
	results, err := s.client.GeoSearchLocation(ctx, s.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Nearby, 0, len(results))
	for _, r := range results {
		out = append(out, Nearby{
			DriverID:   r.Name,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			DistanceKm: r.Dist,
		})
	}
	return out, nil
}

// Remove drops the driver from the index, e.g. when it goes offline.
func (s *LocationIndex) Remove(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, s.key, driverID).Err()
}
