package unit

import "github.com/nerrad567/vent-logic-core/internal/bacnet"

// Point map for the supported unit family (serials prefixed "80").
// Instances were determined empirically against real units; the vendor
// publishes no register documentation.
var (
	// PointOperationMode is the unit's own operating state, including
	// transient states like cooker hood and fireplace.
	PointOperationMode = bacnet.NewRef(bacnet.ObjectMultiState, 1)

	// PointVentilationMode is the user-facing base mode selector.
	PointVentilationMode = bacnet.NewRef(bacnet.ObjectMultiState, 2)

	// PointRFInput mirrors the position of a wireless wall controller.
	PointRFInput = bacnet.NewRef(bacnet.ObjectMultiState, 3)

	// PointComfortButton is the home/away toggle.
	PointComfortButton = bacnet.NewRef(bacnet.ObjectBinaryValue, 50)

	// Fireplace boost: active flag, start/stop trigger, runtime minutes.
	PointFireplaceActive  = bacnet.NewRef(bacnet.ObjectBinaryValue, 51)
	PointFireplaceTrigger = bacnet.NewRef(bacnet.ObjectBinaryValue, 52)
	PointFireplaceRuntime = bacnet.NewRef(bacnet.ObjectPositiveInt, 53)

	// Rapid (temporary high) ventilation: active flag and trigger.
	PointRapidActive  = bacnet.NewRef(bacnet.ObjectBinaryValue, 54)
	PointRapidTrigger = bacnet.NewRef(bacnet.ObjectBinaryValue, 55)

	// PointTempTimerActive is set while any temporary-ventilation timer
	// (fireplace, rapid) is counting down.
	PointTempTimerActive = bacnet.NewRef(bacnet.ObjectBinaryValue, 56)

	// Temperature setpoints; which one is authoritative follows the mode.
	PointSetpointHome = bacnet.NewRef(bacnet.ObjectAnalogValue, 10)
	PointSetpointAway = bacnet.NewRef(bacnet.ObjectAnalogValue, 11)

	// Filter operating time and its limit, both in hours.
	PointFilterTime  = bacnet.NewRef(bacnet.ObjectAnalogValue, 30)
	PointFilterLimit = bacnet.NewRef(bacnet.ObjectAnalogValue, 31)

	// Sensor points.
	PointOutdoorTemp = bacnet.NewRef(bacnet.ObjectAnalogInput, 1)
	PointSupplyTemp  = bacnet.NewRef(bacnet.ObjectAnalogInput, 2)
	PointExtractTemp = bacnet.NewRef(bacnet.ObjectAnalogInput, 3)
	PointHumidity    = bacnet.NewRef(bacnet.ObjectAnalogInput, 4)
)

// FanLeg is one side of the air path.
type FanLeg int

const (
	LegSupply FanLeg = iota
	LegExtract
)

func (l FanLeg) String() string {
	if l == LegSupply {
		return "supply"
	}
	return "extract"
}

// FanProfileMode names one configurable fan-speed profile. Cooker hood
// is a distinct profile even though mode arbitration folds it into high.
type FanProfileMode int

const (
	FanAway FanProfileMode = iota
	FanHome
	FanHigh
	FanCooker
)

func (m FanProfileMode) String() string {
	switch m {
	case FanAway:
		return "away"
	case FanHome:
		return "home"
	case FanHigh:
		return "high"
	case FanCooker:
		return "cooker"
	default:
		return "unknown"
	}
}

// fanSetpointPoints addresses the fan-speed setpoint per profile and leg.
var fanSetpointPoints = map[FanProfileMode]map[FanLeg]bacnet.ObjectRef{
	FanAway: {
		LegSupply:  bacnet.NewRef(bacnet.ObjectAnalogValue, 20),
		LegExtract: bacnet.NewRef(bacnet.ObjectAnalogValue, 21),
	},
	FanHome: {
		LegSupply:  bacnet.NewRef(bacnet.ObjectAnalogValue, 22),
		LegExtract: bacnet.NewRef(bacnet.ObjectAnalogValue, 23),
	},
	FanHigh: {
		LegSupply:  bacnet.NewRef(bacnet.ObjectAnalogValue, 24),
		LegExtract: bacnet.NewRef(bacnet.ObjectAnalogValue, 25),
	},
	FanCooker: {
		LegSupply:  bacnet.NewRef(bacnet.ObjectAnalogValue, 26),
		LegExtract: bacnet.NewRef(bacnet.ObjectAnalogValue, 27),
	},
}

// fanRange is the allowed percentage range for one profile.
type fanRange struct {
	min, max float64
}

// fanRanges holds the device-enforced limits per profile; writing outside
// them is rejected before any network I/O. Both legs share one range.
var fanRanges = map[FanProfileMode]fanRange{
	FanAway:   {30, 70},
	FanHome:   {50, 90},
	FanHigh:   {80, 100},
	FanCooker: {50, 100},
}

// pollPoints is the batched read issued on every poll cycle.
var pollPoints = []bacnet.ObjectRef{
	PointOperationMode,
	PointVentilationMode,
	PointRFInput,
	PointComfortButton,
	PointFireplaceActive,
	PointFireplaceRuntime,
	PointRapidActive,
	PointTempTimerActive,
	PointSetpointHome,
	PointSetpointAway,
	PointFilterTime,
	PointFilterLimit,
	PointOutdoorTemp,
	PointSupplyTemp,
	PointExtractTemp,
	PointHumidity,
	fanSetpointPoints[FanAway][LegSupply],
	fanSetpointPoints[FanAway][LegExtract],
	fanSetpointPoints[FanHome][LegSupply],
	fanSetpointPoints[FanHome][LegExtract],
	fanSetpointPoints[FanHigh][LegSupply],
	fanSetpointPoints[FanHigh][LegExtract],
	fanSetpointPoints[FanCooker][LegSupply],
	fanSetpointPoints[FanCooker][LegExtract],
}

// neverBlock lists points whose writes are retried on every call even
// after a device denial. These points intermittently answer with a
// denial while busy and accept the same write moments later.
var neverBlock = map[bacnet.ObjectRef]bool{
	PointVentilationMode:  true,
	PointComfortButton:    true,
	PointFireplaceTrigger: true,
	PointFireplaceRuntime: true,
	PointRapidTrigger:     true,
}
