// Package influxdb provides optional capability telemetry for Vent Logic Core.
//
// Each successful unit poll produces a flat set of scalar capability values;
// when InfluxDB is enabled, those samples are recorded for trend analysis
// (filter wear, temperature curves, mode history). Writes are batched and
// non-blocking so telemetry can never stall the poll cycle.
//
// Telemetry is strictly optional: when influxdb.enabled is false the daemon
// runs without it and no connection is attempted.
package influxdb
