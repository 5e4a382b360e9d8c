package mqtt

import "fmt"

// Topic prefixes for the Vent Logic MQTT hierarchy.
//
// All topics use the flat scheme: ventlogic/{category}/{unit_id}[/{suffix}]
// so that hub-side consumers can subscribe per category with one wildcard.
const (
	// TopicPrefix is the base for all Vent Logic topics.
	TopicPrefix = "ventlogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ventlogic/system"
)

// Topics provides builders for Vent Logic MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.UnitCapability("unit-800131000001", "mode")
//	// Returns: "ventlogic/state/unit-800131000001/mode"
type Topics struct{}

// UnitCapability returns the topic a capability value is published on.
//
// Example: ventlogic/state/unit-800131000001/target_temperature
func (Topics) UnitCapability(unitID, capability string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, unitID, capability)
}

// UnitAvailability returns the availability topic for a unit.
//
// Example: ventlogic/availability/unit-800131000001
func (Topics) UnitAvailability(unitID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, unitID)
}

// UnitCommand returns the topic commands for a unit capability arrive on.
//
// Example: ventlogic/command/unit-800131000001/mode
func (Topics) UnitCommand(unitID, capability string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, unitID, capability)
}

// UnitCommands returns a pattern matching every command for one unit.
//
// Pattern: ventlogic/command/unit-800131000001/+
func (Topics) UnitCommands(unitID string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, unitID)
}

// UnitSettings returns the topic settings batches are published on.
//
// Example: ventlogic/settings/unit-800131000001
func (Topics) UnitSettings(unitID string) string {
	return fmt.Sprintf("%s/settings/%s", TopicPrefix, unitID)
}

// Discovery returns the topic discovered units are announced on.
//
// Example: ventlogic/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefix)
}

// SystemStatus returns the system status topic.
//
// Example: ventlogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllUnitStates returns a pattern matching every capability publication.
//
// Pattern: ventlogic/state/+/+
func (Topics) AllUnitStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllUnitCommands returns a pattern matching every unit command.
//
// Pattern: ventlogic/command/+/+
func (Topics) AllUnitCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Vent Logic topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: ventlogic/#
func (Topics) AllTopics() string {
	return "ventlogic/#"
}
