package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"canteen-sync/internal/domain/geo"
	"canteen-sync/internal/general/logger"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoFix            = errors.New("could not get an initial position")
	ErrWatchFailed      = errors.New("could not watch position")
	ErrNoDriver         = errors.New("driver id is required")
)

// Tracker runs the driver location pipeline: one immediate fix, a watch that
// only refreshes the last-known sample and a timer that reports it.
type Tracker struct {
	source   PositionSource
	reporter Reporter
	alerter  Alerter
	log      *logger.Logger
	interval time.Duration

	mu             sync.Mutex
	gen            uint64
	running        bool
	driverID       string
	foregroundOnly bool
	last           *geo.Sample
	lastReported   *geo.Sample
	cancel         context.CancelFunc
	stopWatch      func()
	alerted        bool

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

func NewTracker(source PositionSource, reporter Reporter, alerter Alerter, interval time.Duration, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tracker{
		source:   source,
		reporter: reporter,
		alerter:  alerter,
		log:      log,
		interval: interval,
	}
}

// Start begins tracking for driverID, restarting if already running. Denied
// foreground permission and a failed first fix are alerted once and returned.
func (t *Tracker) Start(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrNoDriver
	}
	t.Stop()

	foreground, background, err := t.source.RequestPermissions(ctx)
	if err != nil || !foreground {
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		} else {
			err = ErrPermissionDenied
		}
		t.alertOnce(ctx, err)
		return err
	}
	if !background {
		t.log.Warn(ctx, "tracking_foreground_only", "background location denied, tracking in foreground only", map[string]any{"driver_id": driverID})
	}

	fix, err := t.source.CurrentPosition(ctx)
	if err == nil {
		err = fix.Validate()
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrNoFix, err)
		t.alertOnce(ctx, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.running = true
	t.driverID = driverID
	t.foregroundOnly = !background
	t.last = &fix
	t.lastReported = nil
	t.cancel = cancel
	t.mu.Unlock()

	stopWatch, err := t.source.Watch(runCtx, t.watcher(gen))
	if err != nil {
		t.Stop()
		err = fmt.Errorf("%w: %v", ErrWatchFailed, err)
		t.alertOnce(ctx, err)
		return err
	}

	t.mu.Lock()
	if t.gen != gen {
		// stopped while the watch was being set up
		t.mu.Unlock()
		stopWatch()
		return nil
	}
	t.stopWatch = stopWatch
	t.alerted = false
	// counted before unlocking so a concurrent Stop waits for the loop
	t.wg.Add(1)
	t.mu.Unlock()

	go t.loop(runCtx, driverID, fix)

	t.log.Info(ctx, "tracking_started", "location tracking started", map[string]any{
		"driver_id":       driverID,
		"interval":        t.interval.String(),
		"foreground_only": !background,
	})
	return nil
}

// Stop cancels the watch, the timer and any in-flight report, and waits for
// them. Nothing is reported and no watch update is applied after it returns.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.gen++
	cancel, stopWatch, driverID := t.cancel, t.stopWatch, t.driverID
	t.cancel, t.stopWatch = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopWatch != nil {
		stopWatch()
	}
	t.wg.Wait()

	t.log.Info(context.Background(), "tracking_stopped", "location tracking stopped", map[string]any{"driver_id": driverID})
}

// SetEnabled starts or stops tracking to follow an on/off flag.
func (t *Tracker) SetEnabled(ctx context.Context, enabled bool, driverID string) error {
	if !enabled {
		t.Stop()
		return nil
	}
	if t.Running() {
		return nil
	}
	return t.Start(ctx, driverID)
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) ForegroundOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.foregroundOnly
}

// LastKnown is the newest sample, reported or not.
func (t *Tracker) LastKnown() (geo.Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return geo.Sample{}, false
	}
	return *t.last, true
}

// LastReported is the newest sample the backend accepted.
func (t *Tracker) LastReported() (geo.Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastReported == nil {
		return geo.Sample{}, false
	}
	return *t.lastReported, true
}

func (t *Tracker) watcher(gen uint64) func(geo.Sample) {
	return func(s geo.Sample) {
		if err := s.Validate(); err != nil {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen {
			return
		}
		t.last = &s
	}
}

func (t *Tracker) loop(ctx context.Context, driverID string, fix geo.Sample) {
	defer t.wg.Done()

	t.fire(ctx, driverID, fix)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, ok := t.LastKnown()
			if !ok {
				continue
			}
			t.fire(ctx, driverID, sample)
		}
	}
}

// fire starts a report unless one is still running.
func (t *Tracker) fire(ctx context.Context, driverID string, s geo.Sample) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.log.Debug(ctx, "tracking_skip", "previous report still in flight", map[string]any{"driver_id": driverID})
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.inFlight.Store(false)
		t.report(ctx, driverID, s)
	}()
}

func (t *Tracker) report(ctx context.Context, driverID string, s geo.Sample) {
	if ctx.Err() != nil {
		return
	}
	if err := t.reporter.Report(ctx, driverID, s); err != nil {
		if ctx.Err() == nil {
			t.log.Warn(ctx, "tracking_report_failed", "location report failed", map[string]any{
				"driver_id": driverID,
				"error":     err.Error(),
			})
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() == nil {
		t.lastReported = &s
	}
}

func (t *Tracker) alertOnce(ctx context.Context, err error) {
	t.log.Error(ctx, "tracking_start_failed", "location tracking could not start", err, nil)

	t.mu.Lock()
	if t.alerted {
		t.mu.Unlock()
		return
	}
	t.alerted = true
	t.mu.Unlock()

	if t.alerter != nil {
		t.alerter.Alert(ctx, err)
	}
}
