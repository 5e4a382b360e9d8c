// Package config loads and validates Vent Logic Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by VENTLOGIC_* environment variables. The result
// is validated before the application starts.
//
// # Sections
//
//   - site: site identity and timezone
//   - database: SQLite settings-store location and pragmas
//   - mqtt: broker connection, auth, QoS, reconnect behaviour
//   - influxdb: optional capability telemetry sink
//   - logging: level, format, output destination
//   - discovery: multicast discovery window and burst shape
//   - units: poll interval, write timeout, rediscovery interval, local port
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
