package unit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// Device-enforced value limits.
const (
	setpointMin  = 10.0
	setpointMax  = 30.0
	setpointStep = 0.5

	fireplaceRuntimeMin     = 1
	fireplaceRuntimeMax     = 360
	fireplaceRuntimeDefault = 30

	// hoursPerMonth is the unit's own month unit for filter intervals.
	hoursPerMonth   = 730
	filterMonthsMin = 3
	filterMonthsMax = 12
)

// writePoint executes one point write with the engine's full write
// discipline: idempotence short-circuit, block-list suppression,
// soft-accept recording and permanent-denial handling.
//
// forced bypasses the idempotence check, for writes that must go out
// even when the device appears to already hold the value.
func (r *Registry) writePoint(ctx context.Context, st *unitState, ref bacnet.ObjectRef, value float64, priority bacnet.Priority, forced bool) error {
	r.mu.Lock()
	if st.blockedWrites[ref] && !neverBlock[ref] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWriteBlocked, ref.String())
	}
	skip := !forced && st.shouldSkipWrite(ref, value)
	addr := st.addr
	r.mu.Unlock()

	if skip {
		r.logger.Debug("write skipped, value already current",
			"unit_id", st.unitID, "ref", ref.String(), "value", value)
		return nil
	}

	transport, err := r.transports.Transport(r.localPort)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err = transport.Write(wctx, addr, ref, value, bacnet.WriteOptions{Priority: priority})
	switch {
	case err == nil:
		r.mu.Lock()
		st.recordWrite(ref, value, false)
		r.mu.Unlock()
		return nil

	case bacnet.IsSoftAccept(err):
		// Accepted server-side; the new value shows up on a later read.
		r.mu.Lock()
		st.recordWrite(ref, value, true)
		r.mu.Unlock()
		r.logger.Debug("write soft-accepted, confirming on next poll",
			"unit_id", st.unitID, "ref", ref.String(), "value", value)
		return nil

	case bacnet.IsAccessDenied(err):
		if neverBlock[ref] {
			return fmt.Errorf("write denied on %s: %w", ref.String(), err)
		}
		r.mu.Lock()
		st.blockedWrites[ref] = true
		r.mu.Unlock()
		r.logger.Warn("write denied, blocking point",
			"unit_id", st.unitID, "ref", ref.String(), "error", err)
		return fmt.Errorf("write denied on %s: %w", ref.String(), err)

	default:
		return fmt.Errorf("writing %s on unit %s: %w", ref.String(), st.unitID, err)
	}
}

// SetMode commands the unit into a target mode via the mode-specific
// sequence of conditional point writes. The call is queued on the unit's
// write queue and returns after the whole sequence ran.
func (r *Registry) SetMode(ctx context.Context, unitID string, mode Mode) error {
	st, err := r.unit(unitID)
	if err != nil {
		return err
	}

	return r.enqueue(ctx, st, func(ctx context.Context) error {
		if err := r.applyMode(ctx, st, mode); err != nil {
			return err
		}
		r.mu.Lock()
		m := mode
		st.expectedMode = &m
		st.expectedModeAt = time.Now()
		r.mu.Unlock()
		return nil
	})
}

// applyMode runs the per-mode write sequence. The sequences were matched
// against the vendor app's traffic; the orderings matter.
func (r *Registry) applyMode(ctx context.Context, st *unitState, mode Mode) error {
	r.mu.Lock()
	fireplaceActive := st.probeValues[PointFireplaceActive] == 1
	rapidActive := st.probeValues[PointRapidActive] == 1
	ventBlocked := st.blockedWrites[PointVentilationMode] && !neverBlock[PointVentilationMode]
	r.mu.Unlock()

	// Leaving fireplace while the device still reports it active needs a
	// clearing trigger first, whatever the destination.
	if mode != ModeFireplace && fireplaceActive {
		if err := r.writePoint(ctx, st, PointFireplaceTrigger, 0, bacnet.PriorityVendorApp, true); err != nil {
			return err
		}
	}

	switch mode {
	case ModeHome:
		if err := r.writePoint(ctx, st, PointComfortButton, 1, bacnet.PriorityStandard, false); err != nil {
			return err
		}
		// Forced: breaks out of transient fireplace/high overlays even
		// when the selector already reads home.
		if !ventBlocked {
			if err := r.writePoint(ctx, st, PointVentilationMode, ventModeHome, bacnet.PriorityStandard, true); err != nil {
				return err
			}
		}
		if rapidActive {
			if err := r.writePoint(ctx, st, PointRapidTrigger, 0, bacnet.PriorityVendorApp, true); err != nil {
				return err
			}
		}
		return nil

	case ModeAway:
		// Forced while fireplace is active, or the unit snaps back to
		// home when the boost expires.
		if err := r.writePoint(ctx, st, PointComfortButton, 0, bacnet.PriorityStandard, fireplaceActive); err != nil {
			return err
		}
		if rapidActive {
			if err := r.writePoint(ctx, st, PointRapidTrigger, 0, bacnet.PriorityVendorApp, true); err != nil {
				return err
			}
		}
		return nil

	case ModeHigh:
		if err := r.writePoint(ctx, st, PointComfortButton, 1, bacnet.PriorityStandard, false); err != nil {
			return err
		}
		if !ventBlocked {
			if err := r.writePoint(ctx, st, PointVentilationMode, ventModeHigh, bacnet.PriorityStandard, false); err != nil {
				return err
			}
		}
		return nil

	case ModeFireplace:
		if err := r.writePoint(ctx, st, PointComfortButton, 1, bacnet.PriorityStandard, false); err != nil {
			return err
		}
		runtime := r.fireplaceRuntime(st)
		if err := r.writePoint(ctx, st, PointFireplaceRuntime, runtime, bacnet.PriorityVendorApp, false); err != nil {
			return err
		}
		if err := r.writePoint(ctx, st, PointFireplaceTrigger, 1, bacnet.PriorityVendorApp, true); err != nil {
			return err
		}
		r.pushSettings(st, map[string]float64{SettingFireplaceRuntime: runtime})
		return nil

	default:
		return fmt.Errorf("%w: mode %d", ErrValidation, mode)
	}
}

// fireplaceRuntime picks the boost runtime in minutes: a persisted
// runtime setting wins, then the last observed value when sane, else
// the fixed default. Clamped either way.
func (r *Registry) fireplaceRuntime(st *unitState) float64 {
	r.mu.Lock()
	sinks := snapshotSinks(st)
	observed, ok := st.probeValues[PointFireplaceRuntime]
	r.mu.Unlock()

	runtime := float64(fireplaceRuntimeDefault)
	if ok && observed > 0 {
		runtime = observed
	}
	for _, s := range sinks {
		if v, ok := s.GetSetting(SettingFireplaceRuntime); ok && v > 0 {
			runtime = v
			break
		}
	}
	return math.Min(math.Max(runtime, fireplaceRuntimeMin), fireplaceRuntimeMax)
}

// SetTargetTemperature writes the temperature setpoint, clamped and
// rounded to the device's resolution. Which of the two setpoint
// registers gets written follows the currently arbitrated mode.
func (r *Registry) SetTargetTemperature(ctx context.Context, unitID string, celsius float64) error {
	st, err := r.unit(unitID)
	if err != nil {
		return err
	}

	target := math.Round(celsius/setpointStep) * setpointStep
	target = math.Min(math.Max(target, setpointMin), setpointMax)

	return r.enqueue(ctx, st, func(ctx context.Context) error {
		r.mu.Lock()
		ref := PointSetpointHome
		if Arbitrate(st.probeValues) == ModeAway {
			ref = PointSetpointAway
		}
		r.mu.Unlock()

		if err := r.writePoint(ctx, st, ref, target, bacnet.PriorityStandard, false); err != nil {
			return err
		}
		r.pushSettings(st, map[string]float64{SettingTargetTemperature: target})
		return nil
	})
}

// SetFanProfile configures the fan-speed pair for one profile. The
// percentages are validated against the profile's allowed range before
// any network I/O; both legs are then written at the vendor-app priority,
// read back, and the verified values pushed to the sinks.
func (r *Registry) SetFanProfile(ctx context.Context, unitID string, profile FanProfileMode, supply, extract float64) error {
	st, err := r.unit(unitID)
	if err != nil {
		return err
	}

	rng, ok := fanRanges[profile]
	if !ok {
		return fmt.Errorf("%w: unknown fan profile %d", ErrValidation, profile)
	}
	requested := map[FanLeg]float64{LegSupply: supply, LegExtract: extract}
	for leg, pct := range requested {
		if pct < rng.min || pct > rng.max {
			return fmt.Errorf("%w: %s/%s=%g outside allowed range %g-%g",
				ErrValidation, profile, leg, pct, rng.min, rng.max)
		}
	}

	return r.enqueue(ctx, st, func(ctx context.Context) error {
		points := fanSetpointPoints[profile]
		if err := r.writePoint(ctx, st, points[LegSupply], supply, bacnet.PriorityVendorApp, false); err != nil {
			return err
		}
		if err := r.writePoint(ctx, st, points[LegExtract], extract, bacnet.PriorityVendorApp, false); err != nil {
			return err
		}

		verified, err := r.readBack(ctx, st, points[LegSupply], points[LegExtract])
		if err != nil {
			return fmt.Errorf("reading back fan setpoints: %w", err)
		}

		settings := make(map[string]float64, 2)
		for leg, ref := range points {
			got, ok := verified[ref]
			if !ok {
				continue
			}
			if got != requested[leg] {
				r.logger.Warn("fan setpoint verified at different value",
					"unit_id", st.unitID, "profile", profile.String(), "leg", leg.String(),
					"requested", requested[leg], "verified", got)
			}
			settings[FanSettingKey(profile, leg)] = got
			r.mu.Lock()
			st.probeValues[ref] = got
			r.mu.Unlock()
		}
		r.pushSettings(st, settings)
		return nil
	})
}

// SetFilterInterval writes the filter-change interval in hours, bounded
// by the 3-12 month device range, reads the limit back and syncs both
// the hour and month representations to the sinks.
func (r *Registry) SetFilterInterval(ctx context.Context, unitID string, hours float64) error {
	st, err := r.unit(unitID)
	if err != nil {
		return err
	}

	const minHours = filterMonthsMin * hoursPerMonth
	const maxHours = filterMonthsMax * hoursPerMonth
	if hours < minHours || hours > maxHours {
		return fmt.Errorf("%w: filter interval %g hours outside %d-%d", ErrValidation, hours, minHours, maxHours)
	}

	return r.enqueue(ctx, st, func(ctx context.Context) error {
		if err := r.writePoint(ctx, st, PointFilterLimit, hours, bacnet.PriorityVendorApp, false); err != nil {
			return err
		}

		verified, err := r.readBack(ctx, st, PointFilterLimit)
		if err != nil {
			return fmt.Errorf("reading back filter limit: %w", err)
		}
		limit, ok := verified[PointFilterLimit]
		if !ok {
			return fmt.Errorf("%w: filter limit absent from read-back", bacnet.ErrNoResponse)
		}

		months := math.Round(limit / hoursPerMonth)
		if months*hoursPerMonth != limit {
			r.logger.Warn("filter interval rounds inexactly to months",
				"unit_id", st.unitID, "hours", limit, "months", months)
		}
		months = math.Min(math.Max(months, filterMonthsMin), filterMonthsMax)

		r.mu.Lock()
		st.probeValues[PointFilterLimit] = limit
		r.mu.Unlock()

		r.pushSettings(st, map[string]float64{
			SettingFilterHours:  limit,
			SettingFilterMonths: months,
		})
		return nil
	})
}

// ResetFilterTimer zeroes the filter operating-time accumulator. There
// is no fallback mechanism; a failure surfaces directly.
func (r *Registry) ResetFilterTimer(ctx context.Context, unitID string) error {
	st, err := r.unit(unitID)
	if err != nil {
		return err
	}

	return r.enqueue(ctx, st, func(ctx context.Context) error {
		if err := r.writePoint(ctx, st, PointFilterTime, 0, bacnet.PriorityVendorApp, true); err != nil {
			return err
		}
		r.mu.Lock()
		st.probeValues[PointFilterTime] = 0
		r.mu.Unlock()
		return nil
	})
}

// readBack reads a handful of points outside the poll cycle, used to
// verify writes whose effective value the device may adjust.
func (r *Registry) readBack(ctx context.Context, st *unitState, refs ...bacnet.ObjectRef) (map[bacnet.ObjectRef]float64, error) {
	transport, err := r.transports.Transport(r.localPort)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	addr := st.addr
	r.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return transport.ReadMultiple(rctx, addr, refs)
}

// pushSettings delivers a settings batch to every sink, swallowing
// failures.
func (r *Registry) pushSettings(st *unitState, settings map[string]float64) {
	if len(settings) == 0 {
		return
	}
	r.mu.Lock()
	sinks := snapshotSinks(st)
	r.mu.Unlock()

	for _, s := range sinks {
		if err := s.PushSettings(settings); err != nil {
			r.logger.Warn("settings push failed", "unit_id", st.unitID, "error", err)
		}
	}
}
