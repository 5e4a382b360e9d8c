package unit

import (
	"time"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// failureThreshold is the number of consecutive failed polls that flips
// a unit unavailable.
const failureThreshold = 3

// writeMarker records an expected value awaiting read-back confirmation.
type writeMarker struct {
	value float64
	at    time.Time
}

// confirmWindow bounds how long a marker may stay unconfirmed before a
// mismatching poll drops it with a warning.
const confirmWindow = 30 * time.Second

// lastWrite records the most recent write to a point, for idempotence
// checks against stale probe values.
type lastWrite struct {
	value float64
	at    time.Time
}

// unitState is the per-unit state machine. All fields are guarded by
// the registry mutex except the write queue, which has its own
// single-consumer goroutine.
type unitState struct {
	unitID   string
	serial   string // normalized, digits only
	addr     bacnet.Address
	sinks    map[Sink]struct{}

	// Write queue: jobs are executed strictly in submission order by
	// one consumer goroutine.
	jobs chan *writeJob

	// Latest observed value per point.
	probeValues map[bacnet.ObjectRef]float64
	lastPollAt  time.Time

	// Points permanently suppressed after a device denial.
	blockedWrites map[bacnet.ObjectRef]bool

	// Soft-accepted writes awaiting read-back confirmation.
	pendingWriteErrors map[bacnet.ObjectRef]writeMarker

	// Expected values from regular accepted writes, reconciled on poll.
	writeContext map[bacnet.ObjectRef]writeMarker

	// Most recent write per point, regardless of outcome class.
	lastWriteValues map[bacnet.ObjectRef]lastWrite

	// Mode diagnostics.
	expectedMode    *Mode
	expectedModeAt  time.Time
	lastMismatchKey string
	lastMismatchAt  time.Time

	// Availability.
	consecutiveFailures int
	available           bool

	// Edge-triggered fan-setpoint change detection.
	fanProfile      FanProfileMode
	fanSetpoints    map[FanLeg]float64
	fanBaselineSeen bool

	// Lifecycle plumbing.
	removed         bool
	stopPoll        chan struct{}
	pollNow         chan struct{}
	stopRediscovery chan struct{} // non-nil iff unavailable
}

func newUnitState(unitID, serial string, addr bacnet.Address) *unitState {
	return &unitState{
		unitID:             unitID,
		serial:             serial,
		addr:               addr,
		sinks:              make(map[Sink]struct{}),
		jobs:               make(chan *writeJob, writeQueueDepth),
		probeValues:        make(map[bacnet.ObjectRef]float64),
		blockedWrites:      make(map[bacnet.ObjectRef]bool),
		pendingWriteErrors: make(map[bacnet.ObjectRef]writeMarker),
		writeContext:       make(map[bacnet.ObjectRef]writeMarker),
		lastWriteValues:    make(map[bacnet.ObjectRef]lastWrite),
		fanSetpoints:       make(map[FanLeg]float64),
		available:          true,
		stopPoll:           make(chan struct{}),
		pollNow:            make(chan struct{}, 1),
	}
}

// shouldSkipWrite reports whether a write can be short-circuited: the
// device already holds the desired value and no intervening write has
// touched the point since the last poll (or the last write already set
// the same value).
func (s *unitState) shouldSkipWrite(ref bacnet.ObjectRef, desired float64) bool {
	current, ok := s.probeValues[ref]
	if !ok || current != desired {
		return false
	}
	lw, wrote := s.lastWriteValues[ref]
	if !wrote || !lw.at.After(s.lastPollAt) {
		return true
	}
	return lw.value == desired
}

// recordWrite notes an accepted or soft-accepted write for idempotence
// and read-back reconciliation.
func (s *unitState) recordWrite(ref bacnet.ObjectRef, value float64, soft bool) {
	now := time.Now()
	s.lastWriteValues[ref] = lastWrite{value: value, at: now}
	marker := writeMarker{value: value, at: now}
	if soft {
		s.pendingWriteErrors[ref] = marker
	} else {
		s.writeContext[ref] = marker
	}
}
