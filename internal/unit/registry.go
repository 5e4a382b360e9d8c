package unit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
	"github.com/nerrad567/vent-logic-core/internal/discovery"
)

// Engine timing defaults. Poll and rediscovery cadence were tuned
// against real units; the retry delay gives a busy unit a moment to
// finish whatever made it drop the first read.
const (
	defaultPollInterval        = 10 * time.Second
	defaultWriteTimeout        = 5 * time.Second
	defaultRediscoveryInterval = 60 * time.Second
	pollRetryDelay             = time.Second

	// rediscoveryBurstWindow bounds the short sweep run while degraded.
	rediscoveryBurstWindow = 2 * time.Second

	// mismatchLogInterval rate-limits repeated mode-mismatch logs.
	mismatchLogInterval = time.Minute

	// comfortDelayWindow is how long after an away command the unit may
	// legitimately still read as home while its comfort delay runs out.
	comfortDelayWindow = 10 * time.Minute
)

// Logger is the minimal logging interface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DiscoverFunc runs one discovery sweep. Injected so tests and the
// composition root control the network side.
type DiscoverFunc func(ctx context.Context, opts discovery.Options) ([]discovery.DiscoveredUnit, error)

// Config configures a Registry.
type Config struct {
	// Transports hands out the shared point-protocol client per local
	// UDP port.
	Transports *bacnet.Manager

	// LocalPort is the local UDP port units are spoken to from.
	LocalPort int

	// Discover runs a rediscovery sweep; nil disables rediscovery.
	Discover DiscoverFunc

	// PollInterval, WriteTimeout and RediscoveryInterval override the
	// engine defaults when positive.
	PollInterval        time.Duration
	WriteTimeout        time.Duration
	RediscoveryInterval time.Duration

	// Logger receives engine diagnostics. Nil disables logging.
	Logger Logger
}

// Registry owns one state machine per registered unit.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Registry struct {
	transports          *bacnet.Manager
	localPort           int
	discover            DiscoverFunc
	pollInterval        time.Duration
	writeTimeout        time.Duration
	rediscoveryInterval time.Duration
	logger              Logger

	mu     sync.Mutex
	units  map[string]*unitState
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistry creates a unit registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Transports == nil {
		return nil, fmt.Errorf("unit: transport manager is required")
	}

	r := &Registry{
		transports:          cfg.Transports,
		localPort:           cfg.LocalPort,
		discover:            cfg.Discover,
		pollInterval:        cfg.PollInterval,
		writeTimeout:        cfg.WriteTimeout,
		rediscoveryInterval: cfg.RediscoveryInterval,
		logger:              cfg.Logger,
		units:               make(map[string]*unitState),
		done:                make(chan struct{}),
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = defaultWriteTimeout
	}
	if r.rediscoveryInterval <= 0 {
		r.rediscoveryInterval = defaultRediscoveryInterval
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Register attaches a sink to a unit, creating its state machine on the
// first registration. The unit is polled immediately and then on the
// fixed interval.
//
// Parameters:
//   - unitID: Hub-side unit identifier
//   - serial: Normalized (digits-only) serial, the rediscovery key
//   - addr: The unit's point-protocol endpoint
//   - sink: Receiver for capability and availability pushes
func (r *Registry) Register(unitID, serial string, addr bacnet.Address, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	if st, ok := r.units[unitID]; ok {
		st.sinks[sink] = struct{}{}
		return nil
	}

	st := newUnitState(unitID, serial, addr)
	st.sinks[sink] = struct{}{}
	r.units[unitID] = st

	r.wg.Add(2)
	go r.pollLoop(st)
	go r.consumeWrites(st)

	r.logger.Info("unit registered", "unit_id", unitID, "serial", serial, "endpoint", addr.String())
	return nil
}

// Unregister detaches a sink. When the last sink goes, the unit's
// timers are cancelled and its state dropped.
func (r *Registry) Unregister(unitID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.units[unitID]
	if !ok {
		return
	}
	delete(st.sinks, sink)
	if len(st.sinks) > 0 {
		return
	}

	r.removeLocked(st)
	r.logger.Info("unit removed", "unit_id", unitID)
}

// removeLocked tears one unit down. Caller holds r.mu.
func (r *Registry) removeLocked(st *unitState) {
	st.removed = true
	close(st.stopPoll)
	if st.stopRediscovery != nil {
		close(st.stopRediscovery)
		st.stopRediscovery = nil
	}
	delete(r.units, st.unitID)
}

// Close tears down every unit and stops all background work.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, st := range r.units {
			r.removeLocked(st)
		}
		r.mu.Unlock()

		close(r.done)
		r.wg.Wait()
	})
}

// Available reports the unit's availability.
func (r *Registry) Available(unitID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.units[unitID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return st.available, nil
}

// unit looks a unit up by id.
func (r *Registry) unit(unitID string) (*unitState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	st, ok := r.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return st, nil
}

// pollLoop drives the fixed-interval poll cycle for one unit.
func (r *Registry) pollLoop(st *unitState) {
	defer r.wg.Done()

	r.pollOnce(st)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pollOnce(st)
		case <-st.pollNow:
			r.pollOnce(st)
		case <-st.stopPoll:
			return
		case <-r.done:
			return
		}
	}
}

// pollOnce runs one poll cycle: batched read, retry-once on timeout,
// then reconciliation and derived-value push.
func (r *Registry) pollOnce(st *unitState) {
	values, err := r.readAll(st)
	if err != nil && bacnet.IsTimeout(err) {
		select {
		case <-time.After(pollRetryDelay):
		case <-st.stopPoll:
			return
		case <-r.done:
			return
		}
		values, err = r.readAll(st)
	}

	if err != nil {
		r.pollFailed(st, err)
		return
	}
	r.pollSucceeded(st, values)
}

// readAll issues one batched multi-point read with the write timeout.
func (r *Registry) readAll(st *unitState) (map[bacnet.ObjectRef]float64, error) {
	transport, err := r.transports.Transport(r.localPort)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	r.mu.Lock()
	addr := st.addr
	r.mu.Unlock()

	return transport.ReadMultiple(ctx, addr, pollPoints)
}

// pollFailed counts a failure and flips availability at the threshold,
// exactly once.
func (r *Registry) pollFailed(st *unitState, err error) {
	r.mu.Lock()
	st.consecutiveFailures++
	failures := st.consecutiveFailures
	flip := st.available && failures >= failureThreshold
	if flip {
		st.available = false
		r.startRediscoveryLocked(st)
	}
	sinks := snapshotSinks(st)
	r.mu.Unlock()

	r.logger.Warn("poll failed", "unit_id", st.unitID, "failures", failures, "error", err)

	if flip {
		r.logger.Warn("unit unavailable, will auto-reconnect", "unit_id", st.unitID)
		for _, s := range sinks {
			s.SetAvailable(false)
		}
	}
}

// pollSucceeded resets the failure counter, restores availability when
// needed, reconciles write markers and pushes derived values.
func (r *Registry) pollSucceeded(st *unitState, values map[bacnet.ObjectRef]float64) {
	r.mu.Lock()
	st.consecutiveFailures = 0
	restored := !st.available
	if restored {
		st.available = true
		r.stopRediscoveryLocked(st)
	}

	for ref, v := range values {
		st.probeValues[ref] = v
	}
	st.lastPollAt = time.Now()
	r.reconcileMarkersLocked(st, values)
	r.checkExpectedModeLocked(st, values)
	sinks := snapshotSinks(st)
	r.mu.Unlock()

	if restored {
		r.logger.Info("unit available again", "unit_id", st.unitID)
		for _, s := range sinks {
			s.SetAvailable(true)
		}
	}

	r.pushDerived(st, values, sinks)
}

// reconcileMarkersLocked clears write markers whose point now matches
// the expected value, and drops mismatching markers after the confirm
// window with a rate-limited warning. Caller holds r.mu.
func (r *Registry) reconcileMarkersLocked(st *unitState, values map[bacnet.ObjectRef]float64) {
	reconcile := func(markers map[bacnet.ObjectRef]writeMarker, kind string) {
		for ref, marker := range markers {
			observed, ok := values[ref]
			if !ok {
				continue
			}
			if observed == marker.value {
				delete(markers, ref)
				continue
			}
			if time.Since(marker.at) > confirmWindow {
				delete(markers, ref)
				r.logRateLimitedLocked(st, "confirm:"+ref.String(), func() {
					r.logger.Warn("write never confirmed by device",
						"unit_id", st.unitID, "ref", ref.String(), "kind", kind,
						"expected", marker.value, "observed", observed)
				})
			}
		}
	}
	reconcile(st.writeContext, "accepted")
	reconcile(st.pendingWriteErrors, "soft-accepted")
}

// checkExpectedModeLocked compares the arbitrated mode against the mode
// a caller last commanded. Caller holds r.mu.
func (r *Registry) checkExpectedModeLocked(st *unitState, values map[bacnet.ObjectRef]float64) {
	if st.expectedMode == nil {
		return
	}
	resolved := Arbitrate(values)
	if resolved == *st.expectedMode {
		st.expectedMode = nil
		return
	}

	// Commanding away leaves the comfort button on until the unit's own
	// comfort delay expires; the device reads as home meanwhile. That is
	// expected, not a mismatch.
	if *st.expectedMode == ModeAway && resolved == ModeHome &&
		values[PointComfortButton] == 1 && time.Since(st.expectedModeAt) < comfortDelayWindow {
		r.logRateLimitedLocked(st, "comfort-delay", func() {
			r.logger.Info("away pending comfort delay", "unit_id", st.unitID)
		})
		return
	}

	r.logRateLimitedLocked(st, fmt.Sprintf("mode:%s>%s", st.expectedMode, resolved), func() {
		r.logger.Warn("mode mismatch after write",
			"unit_id", st.unitID, "expected", st.expectedMode.String(), "resolved", resolved.String())
	})
}

// logRateLimitedLocked fires log at most once per interval per key.
// Caller holds r.mu.
func (r *Registry) logRateLimitedLocked(st *unitState, key string, log func()) {
	if st.lastMismatchKey == key && time.Since(st.lastMismatchAt) < mismatchLogInterval {
		return
	}
	st.lastMismatchKey = key
	st.lastMismatchAt = time.Now()
	log()
}

// startRediscoveryLocked spins up the rediscovery loop. Caller holds r.mu.
func (r *Registry) startRediscoveryLocked(st *unitState) {
	if r.discover == nil || st.stopRediscovery != nil {
		return
	}
	stop := make(chan struct{})
	st.stopRediscovery = stop
	r.wg.Add(1)
	go r.rediscoveryLoop(st, stop)
}

// stopRediscoveryLocked cancels the rediscovery loop. Caller holds r.mu.
func (r *Registry) stopRediscoveryLocked(st *unitState) {
	if st.stopRediscovery != nil {
		close(st.stopRediscovery)
		st.stopRediscovery = nil
	}
}

// rediscoveryLoop re-locates an unavailable unit by serial: one sweep on
// entry, then one per interval, until stopped.
func (r *Registry) rediscoveryLoop(st *unitState, stop chan struct{}) {
	defer r.wg.Done()

	r.rediscoverOnce(st)

	ticker := time.NewTicker(r.rediscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.rediscoverOnce(st)
		case <-stop:
			return
		case <-r.done:
			return
		}
	}
}

// rediscoverOnce runs one short sweep and adopts a matching reply's
// endpoint, then triggers an immediate poll.
func (r *Registry) rediscoverOnce(st *unitState) {
	ctx, cancel := context.WithTimeout(context.Background(), rediscoveryBurstWindow)
	defer cancel()

	units, err := r.discover(ctx, discovery.Options{
		Timeout:       rediscoveryBurstWindow,
		BurstCount:    3,
		BurstInterval: 300 * time.Millisecond,
	})
	if err != nil {
		r.logger.Warn("rediscovery sweep failed", "unit_id", st.unitID, "error", err)
		return
	}

	for _, u := range units {
		if u.SerialNormalized != st.serial {
			continue
		}

		newAddr := bacnet.Address{IP: u.IP, Port: u.Port}
		r.mu.Lock()
		changed := st.addr != newAddr
		if changed {
			st.addr = newAddr
		}
		sinks := snapshotSinks(st)
		r.mu.Unlock()

		if changed {
			r.logger.Info("unit relocated", "unit_id", st.unitID, "endpoint", newAddr.String())
			for _, s := range sinks {
				if err := s.SaveEndpoint(u.IP, u.Port); err != nil {
					r.logger.Warn("persisting endpoint failed", "unit_id", st.unitID, "error", err)
				}
			}
		}

		select {
		case st.pollNow <- struct{}{}:
		default:
		}
		return
	}
}

// snapshotSinks copies the sink set so pushes happen outside the lock.
func snapshotSinks(st *unitState) []Sink {
	sinks := make([]Sink, 0, len(st.sinks))
	for s := range st.sinks {
		sinks = append(sinks, s)
	}
	return sinks
}
