package unit

import (
	"fmt"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// Mode is the simplified operating state exposed to sinks and accepted
// by SetMode. It is arbitrated from several overlapping raw signals.
type Mode int

const (
	ModeAway Mode = iota
	ModeHome
	ModeHigh
	ModeFireplace
)

func (m Mode) String() string {
	switch m {
	case ModeAway:
		return "away"
	case ModeHome:
		return "home"
	case ModeHigh:
		return "high"
	case ModeFireplace:
		return "fireplace"
	default:
		return "unknown"
	}
}

// ParseMode converts a sink-supplied mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "away":
		return ModeAway, nil
	case "home":
		return ModeHome, nil
	case "high":
		return ModeHigh, nil
	case "fireplace":
		return ModeFireplace, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
	}
}

// Multi-state values of the operation-mode point.
const (
	opModeOff        = 1
	opModeAway       = 2
	opModeHome       = 3
	opModeHigh       = 4
	opModeCookerHood = 5
	opModeFireplace  = 6
)

// Multi-state values of the ventilation-mode point.
const (
	ventModeStop = 1
	ventModeAway = 2
	ventModeHome = 3
	ventModeHigh = 4
)

// rfInputModes maps wireless wall-controller positions to modes.
var rfInputModes = map[int]Mode{
	1: ModeAway,
	2: ModeHome,
	3: ModeHigh,
	4: ModeFireplace,
}

// operationModes folds the operation-mode point into a Mode. Off and
// away collapse; cooker hood reads as high on the simplified surface.
var operationModes = map[int]Mode{
	opModeOff:        ModeAway,
	opModeAway:       ModeAway,
	opModeHome:       ModeHome,
	opModeHigh:       ModeHigh,
	opModeCookerHood: ModeHigh,
	opModeFireplace:  ModeFireplace,
}

// ventilationModes folds the ventilation-mode point into a Mode.
var ventilationModes = map[int]Mode{
	ventModeStop: ModeAway,
	ventModeAway: ModeAway,
	ventModeHome: ModeHome,
	ventModeHigh: ModeHigh,
}

// Arbitrate resolves the unit's Mode from the latest polled values.
//
// Precedence, highest last (behavior matched against real units, do not
// reorder):
//
//  1. Base mode from the operation-mode point, else the ventilation-mode
//     point, else the RF input table, else temporary-timer inference
//     (fireplace > rapid > comfort-home > away), else the comfort button.
//  2. A present ventilation-mode point overrides the base outcome: the
//     device's authoritative selector beats inferred state.
//  3. The fireplace flag forces fireplace; the rapid flag forces high.
func Arbitrate(values map[bacnet.ObjectRef]float64) Mode {
	mode := baseMode(values)

	if v, ok := values[PointVentilationMode]; ok {
		if m, known := ventilationModes[int(v)]; known {
			mode = m
		}
	}

	if values[PointFireplaceActive] == 1 {
		return ModeFireplace
	}
	if values[PointRapidActive] == 1 {
		return ModeHigh
	}
	return mode
}

func baseMode(values map[bacnet.ObjectRef]float64) Mode {
	if v, ok := values[PointOperationMode]; ok {
		if m, known := operationModes[int(v)]; known {
			return m
		}
	}
	if v, ok := values[PointVentilationMode]; ok {
		if m, known := ventilationModes[int(v)]; known {
			return m
		}
	}
	if v, ok := values[PointRFInput]; ok {
		if m, known := rfInputModes[int(v)]; known {
			return m
		}
	}
	if values[PointTempTimerActive] == 1 {
		switch {
		case values[PointFireplaceActive] == 1:
			return ModeFireplace
		case values[PointRapidActive] == 1:
			return ModeHigh
		case values[PointComfortButton] == 1:
			return ModeHome
		default:
			return ModeAway
		}
	}
	if values[PointComfortButton] == 1 {
		return ModeHome
	}
	return ModeAway
}

// FanProfileFor maps the resolved signals to the fan profile currently
// in effect. Cooker hood is its own profile here even though Arbitrate
// folds it into high.
func FanProfileFor(values map[bacnet.ObjectRef]float64) FanProfileMode {
	if v, ok := values[PointOperationMode]; ok && int(v) == opModeCookerHood {
		return FanCooker
	}
	switch Arbitrate(values) {
	case ModeHome:
		return FanHome
	case ModeHigh, ModeFireplace:
		return FanHigh
	default:
		return FanAway
	}
}
