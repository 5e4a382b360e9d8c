package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCapabilitySample writes a single unit capability sample to InfluxDB.
//
// This is the primary method for recording unit telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - unitID: Unique identifier for the unit (e.g., "unit-800131000001")
//   - capability: The capability name (e.g., "target_temperature", "filter_life")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteCapabilitySample("unit-800131000001", "supply_temperature", 18.5)
func (c *Client) WriteCapabilitySample(unitID string, capability string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"unit_capabilities",
		map[string]string{
			"unit_id":    unitID,
			"capability": capability,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records a unit availability transition.
//
// Parameters:
//   - unitID: Unit identifier
//   - available: New availability state
func (c *Client) WriteAvailability(unitID string, available bool) {
	if !c.IsConnected() {
		return
	}

	v := 0.0
	if available {
		v = 1.0
	}

	point := write.NewPoint(
		"unit_availability",
		map[string]string{
			"unit_id": unitID,
		},
		map[string]interface{}{
			"available": v,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
