package geo

import (
	"errors"
	"time"
)

// Sample is one position fix.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"` // meters, 0 when unknown
	CapturedAt time.Time `json:"capturedAt"`
}

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrNegativeAccuracy = errors.New("accuracy cannot be negative")
)

// NewSample builds a validated sample captured now.
func NewSample(latitude, longitude float64) (Sample, error) {
	s := Sample{Latitude: latitude, Longitude: longitude, CapturedAt: time.Now().UTC()}
	if err := s.Validate(); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// Validate checks coordinate ranges.
func (s Sample) Validate() error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return ErrInvalidLongitude
	}
	if s.Accuracy < 0 {
		return ErrNegativeAccuracy
	}
	return nil
}

// SamePosition reports whether two samples point at the same coordinates.
func (s Sample) SamePosition(other Sample) bool {
	return s.Latitude == other.Latitude && s.Longitude == other.Longitude
}
