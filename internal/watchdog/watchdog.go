package watchdog

import (
	"context"
	"sync"
	"time"

	"example.com/sitewatch/services/monitoring/internal/models"

	"github.com/sirupsen/logrus"
)

// defaultRecoveryTimeout bounds one recovery attempt inside a timer
// callback
const defaultRecoveryTimeout = 60 * time.Second

// Key identifies one monitored sensor. A composite type, not a
// concatenated string, so device ids containing separators cannot
// collide.
type Key struct {
	DeviceID string
	Class    models.SensorClass
}

// Recoverer backfills the gap left by missed transmissions
type Recoverer interface {
	Recover(ctx context.Context, deviceID string, class models.SensorClass, siteID uint) error
}

// Escalator raises a connectivity alert after repeated recovery
// failures
type Escalator interface {
	NotifyDisconnected(ctx context.Context, state *models.DeviceState, failures int)
}

// StateResolver looks up and mutates device state
type StateResolver interface {
	Resolve(ctx context.Context, deviceID string) (*models.DeviceState, error)
	SetStatus(ctx context.Context, deviceID string, status models.Severity) error
}

type entry struct {
	timer           *time.Timer
	reportingPeriod int
	failures        int
}

// Watchdog declares a device disconnected when no reading arrives
// within its expected reporting window. Every reading re-arms the
// device's timer; a firing timer runs gap recovery and escalates
// after consecutive failures. Timers live in memory only: after a
// restart they are rebuilt by the next reading or by the periodic
// reconcile sweep.
type Watchdog struct {
	recoverer Recoverer
	escalator Escalator
	states    StateResolver
	threshold int
	log       *logrus.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
	// tracks in-flight timer callbacks for shutdown
	inflight sync.WaitGroup

	// delayFor computes the timer delay from a reporting period in
	// seconds; replaced in tests
	delayFor func(reportingPeriod int) time.Duration
}

// New creates a watchdog. threshold is the number of consecutive
// recovery failures before escalation.
func New(
	recoverer Recoverer,
	escalator Escalator,
	states StateResolver,
	threshold int,
	log *logrus.Logger,
) *Watchdog {
	return &Watchdog{
		recoverer: recoverer,
		escalator: escalator,
		states:    states,
		threshold: threshold,
		log:       log,
		entries:   make(map[Key]*entry),
		delayFor:  defaultDelay,
	}
}

// defaultDelay gives the device one and a half reporting periods plus
// a fixed grace before it counts as silent
func defaultDelay(reportingPeriod int) time.Duration {
	if reportingPeriod < 1 {
		reportingPeriod = 1
	}
	return time.Duration(float64(reportingPeriod)*1.5+10) * time.Second
}

// Observe registers a reading for a device: the pending timer, if
// any, is cancelled and a fresh one armed. The failure counter starts
// over - the device just proved it is alive.
func (w *Watchdog) Observe(deviceID string, class models.SensorClass, reportingPeriod int) {
	key := Key{DeviceID: deviceID, Class: class}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.armLocked(key, reportingPeriod, 0)
}

// Armed reports whether a timer is pending for the device
func (w *Watchdog) Armed(deviceID string, class models.SensorClass) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[Key{DeviceID: deviceID, Class: class}]
	return ok
}

// armLocked replaces the entry for key with a fresh timer. Caller
// holds w.mu.
func (w *Watchdog) armLocked(key Key, reportingPeriod, failures int) {
	if existing, ok := w.entries[key]; ok {
		existing.timer.Stop()
	}
	e := &entry{
		reportingPeriod: reportingPeriod,
		failures:        failures,
	}
	e.timer = time.AfterFunc(w.delayFor(reportingPeriod), func() {
		w.onFire(key, e)
	})
	w.entries[key] = e
}

// onFire runs in the timer goroutine when a device missed its
// reporting window. A reading arriving while this runs re-arms the
// key concurrently; the redundant recovery attempt that follows is
// tolerated because replaying present samples is a no-op, but the
// stale callback must not touch the fresher entry, so every map write
// below checks that fired is still the current entry for key.
func (w *Watchdog) onFire(key Key, fired *entry) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRecoveryTimeout)
	defer cancel()

	log := w.log.WithFields(logrus.Fields{
		"device_id":    key.DeviceID,
		"sensor_class": key.Class,
	})
	log.Warn("Device missed its reporting window")

	state, err := w.states.Resolve(ctx, key.DeviceID)
	if err != nil {
		// Nothing to recover against; keep watching
		log.WithField("error", err.Error()).Error("Failed to resolve device state on watchdog fire")
		w.rearm(key, fired, 0)
		return
	}

	recoveryErr := w.recoverer.Recover(ctx, key.DeviceID, key.Class, state.SiteID)

	failures := 0
	if recoveryErr != nil {
		failures = w.bumpFailures(key, fired)
		if failures == 0 {
			// A reading re-armed the key mid-recovery: the device is
			// alive, the failure does not count
			log.Info("Reading arrived during gap recovery")
			return
		}
		log.WithFields(logrus.Fields{
			"failures": failures,
			"error":    recoveryErr.Error(),
		}).Error("Gap recovery failed")
	} else {
		log.Info("Gap recovery completed")
	}

	// Monitoring is permanent once a device has reported: re-arm
	// regardless of the outcome
	w.rearm(key, fired, failures)

	if recoveryErr != nil && failures >= w.threshold {
		// Escalations are deliberately not deduplicated
		if err := w.states.SetStatus(ctx, key.DeviceID, models.SeverityDisconnected); err != nil {
			log.WithField("error", err.Error()).Error("Failed to mark device disconnected")
		}
		w.escalator.NotifyDisconnected(ctx, state, failures)
	}
}

// bumpFailures increments and returns the consecutive-failure count
// for key while fired is still its current entry. A zero return means
// the entry was replaced by an Observe mid-callback.
func (w *Watchdog) bumpFailures(key Key, fired *entry) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[key]
	if !ok || e != fired {
		return 0
	}
	e.failures++
	return e.failures
}

// rearm schedules the next window for key unless shut down. A stale
// callback whose entry was already replaced leaves the fresher timer
// and its reset failure count alone.
func (w *Watchdog) rearm(key Key, fired *entry, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if e, ok := w.entries[key]; ok && e != fired {
		return
	}
	w.armLocked(key, fired.reportingPeriod, failures)
}

// Shutdown cancels pending timers and waits for in-flight callbacks
// up to the context deadline, after which remaining work is abandoned
func (w *Watchdog) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	for key, e := range w.entries {
		e.timer.Stop()
		delete(w.entries, key)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
