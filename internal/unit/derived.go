package unit

import (
	"math"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// FilterLife computes the filter's remaining life percentage from its
// operating time and limit, rounded to one decimal. A missing or zero
// limit yields -1 (unknown).
func FilterLife(values map[bacnet.ObjectRef]float64) float64 {
	limit := values[PointFilterLimit]
	if limit <= 0 {
		return -1
	}
	life := math.Max(0, (1-values[PointFilterTime]/limit)*100)
	return math.Round(life*10) / 10
}

// pushDerived computes the per-poll derived values and pushes the
// capability set to every sink. Sink failures are logged and swallowed.
func (r *Registry) pushDerived(st *unitState, values map[bacnet.ObjectRef]float64, sinks []Sink) {
	mode := Arbitrate(values)
	profile := FanProfileFor(values)

	caps := map[string]any{
		CapMode:            mode.String(),
		CapFanProfile:      profile.String(),
		CapFireplaceActive: values[PointFireplaceActive] == 1,
	}
	if life := FilterLife(values); life >= 0 {
		caps[CapFilterLife] = life
	}
	if v, ok := values[PointOutdoorTemp]; ok {
		caps[CapOutdoorTemp] = v
	}
	if v, ok := values[PointSupplyTemp]; ok {
		caps[CapSupplyTemp] = v
	}
	if v, ok := values[PointExtractTemp]; ok {
		caps[CapExtractTemp] = v
	}
	if v, ok := values[PointHumidity]; ok {
		caps[CapHumidity] = v
	}
	if target, ok := targetSetpoint(values, mode); ok {
		caps[CapTargetTemp] = target
	}

	for _, s := range sinks {
		for name, value := range caps {
			if err := s.PushCapability(name, value); err != nil {
				r.logger.Debug("capability push failed",
					"unit_id", st.unitID, "capability", name, "error", err)
			}
		}
	}

	r.trackFanSetpoints(st, values, profile, sinks)
}

// targetSetpoint resolves the authoritative temperature setpoint for the
// current mode.
func targetSetpoint(values map[bacnet.ObjectRef]float64, mode Mode) (float64, bool) {
	ref := PointSetpointHome
	if mode == ModeAway {
		ref = PointSetpointAway
	}
	v, ok := values[ref]
	return v, ok
}

// trackFanSetpoints runs edge-triggered change detection over the active
// profile's fan setpoints. A change notification fires only after an
// initial baseline has been observed once, so a fresh registration does
// not report every setpoint as "changed".
func (r *Registry) trackFanSetpoints(st *unitState, values map[bacnet.ObjectRef]float64, profile FanProfileMode, sinks []Sink) {
	points := fanSetpointPoints[profile]

	r.mu.Lock()
	profileChanged := st.fanProfile != profile
	st.fanProfile = profile

	changed := make(map[FanLeg]float64)
	for leg, ref := range points {
		v, ok := values[ref]
		if !ok {
			continue
		}
		if st.fanBaselineSeen && !profileChanged && st.fanSetpoints[leg] != v {
			changed[leg] = v
		}
		st.fanSetpoints[leg] = v
	}
	baselineJustSeen := !st.fanBaselineSeen && len(st.fanSetpoints) > 0
	if baselineJustSeen {
		st.fanBaselineSeen = true
	}
	r.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	settings := make(map[string]float64, len(changed))
	for leg, v := range changed {
		r.logger.Info("fan setpoint changed on device",
			"unit_id", st.unitID, "profile", profile.String(), "leg", leg.String(), "value", v)
		settings[FanSettingKey(profile, leg)] = v
	}
	for _, s := range sinks {
		if err := s.PushSettings(settings); err != nil {
			r.logger.Warn("settings push failed", "unit_id", st.unitID, "error", err)
		}
	}
}
