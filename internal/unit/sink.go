package unit

// Sink receives state pushed out of the engine for one unit. The hub's
// bridge layer implements it; tests use fakes.
//
// Capability and settings pushes are fire-and-forget from the engine's
// point of view: errors are logged and swallowed so a slow or broken
// sink can never stall a poll cycle.
type Sink interface {
	// GetSetting returns a persisted per-unit setting, if present.
	GetSetting(key string) (float64, bool)

	// PushCapability delivers one scalar capability value.
	PushCapability(name string, value any) error

	// PushSettings delivers a batch of verified settings for persistence.
	PushSettings(settings map[string]float64) error

	// SetAvailable flips the unit's availability surface.
	SetAvailable(available bool)

	// SaveEndpoint persists a relocated network endpoint.
	SaveEndpoint(ip string, port int) error
}

// Setting keys pushed through PushSettings.
const (
	SettingTargetTemperature = "target_temperature"
	SettingFilterMonths      = "filter_months"
	SettingFilterHours       = "filter_hours"
	SettingFireplaceRuntime  = "fireplace_runtime"
)

// FanSettingKey names the persisted setting for one profile leg, e.g.
// "fan_home_supply".
func FanSettingKey(profile FanProfileMode, leg FanLeg) string {
	return "fan_" + profile.String() + "_" + leg.String()
}

// Capability names pushed through PushCapability.
const (
	CapMode            = "mode"
	CapTargetTemp      = "target_temperature"
	CapFilterLife      = "filter_life"
	CapFireplaceActive = "fireplace_active"
	CapOutdoorTemp     = "temperature_outdoor"
	CapSupplyTemp      = "temperature_supply"
	CapExtractTemp     = "temperature_extract"
	CapHumidity        = "humidity"
	CapFanProfile      = "fan_profile"
)
