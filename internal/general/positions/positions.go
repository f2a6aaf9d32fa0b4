// Package positions provides position sources for running the driver agent
// without a device: a fixed point and a replayed track.
package positions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"canteen-sync/internal/domain/geo"
)

var ErrEmptyTrack = errors.New("track has no samples")

// Fixed always reports the same point.
type Fixed struct {
	Sample geo.Sample
}

func NewFixed(latitude, longitude float64) (*Fixed, error) {
	s, err := geo.NewSample(latitude, longitude)
	if err != nil {
		return nil, err
	}
	return &Fixed{Sample: s}, nil
}

func (f *Fixed) RequestPermissions(context.Context) (bool, bool, error) {
	return true, true, nil
}

func (f *Fixed) CurrentPosition(context.Context) (geo.Sample, error) {
	s := f.Sample
	s.CapturedAt = time.Now().UTC()
	return s, nil
}

// Watch never emits; the point does not move.
func (f *Fixed) Watch(context.Context, func(geo.Sample)) (func(), error) {
	return func() {}, nil
}

// Replay walks a recorded track, one sample per Step.
type Replay struct {
	Samples []geo.Sample
	Step    time.Duration
	Loop    bool
}

// LoadReplay reads a CSV track of latitude,longitude[,accuracy] rows. Blank
// lines and lines starting with # are skipped, and so is a header row.
func LoadReplay(path string, step time.Duration, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track: %w", err)
	}
	defer f.Close()

	samples, err := ParseTrack(f)
	if err != nil {
		return nil, fmt.Errorf("parse track %s: %w", path, err)
	}
	return &Replay{Samples: samples, Step: step, Loop: loop}, nil
}

func ParseTrack(r io.Reader) ([]geo.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []geo.Sample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		s, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrEmptyTrack
	}
	return out, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func parseRecord(rec []string) (geo.Sample, error) {
	if len(rec) < 2 || len(rec) > 3 {
		return geo.Sample{}, fmt.Errorf("want 2 or 3 fields, got %d", len(rec))
	}
	vals := make([]float64, len(rec))
	for i, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geo.Sample{}, err
		}
		vals[i] = v
	}
	s := geo.Sample{Latitude: vals[0], Longitude: vals[1]}
	if len(vals) == 3 {
		s.Accuracy = vals[2]
	}
	return s, s.Validate()
}

func (r *Replay) RequestPermissions(context.Context) (bool, bool, error) {
	return true, true, nil
}

func (r *Replay) CurrentPosition(context.Context) (geo.Sample, error) {
	if len(r.Samples) == 0 {
		return geo.Sample{}, ErrEmptyTrack
	}
	s := r.Samples[0]
	s.CapturedAt = time.Now().UTC()
	return s, nil
}

// Watch emits the samples after the first, then stops unless Loop is set.
func (r *Replay) Watch(ctx context.Context, fn func(geo.Sample)) (func(), error) {
	if len(r.Samples) == 0 {
		return nil, ErrEmptyTrack
	}
	step := r.Step
	if step <= 0 {
		step = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(step)
		defer ticker.Stop()

		i := 1
		for {
			if i >= len(r.Samples) {
				if !r.Loop {
					return
				}
				i = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			s := r.Samples[i]
			s.CapturedAt = time.Now().UTC()
			fn(s)
			i++
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}
