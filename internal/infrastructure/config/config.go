package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Vent Logic Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Units     UnitsConfig     `yaml:"units"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite settings-store configuration.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// Telemetry is optional; when disabled, capability samples are not recorded.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig contains unit discovery settings.
type DiscoveryConfig struct {
	// Enabled controls whether startup discovery seeds the settings store
	// when no units are registered yet.
	Enabled bool `yaml:"enabled"`

	// InterfaceAddress restricts discovery to one local interface address.
	// Empty means every non-loopback IPv4 interface.
	InterfaceAddress string `yaml:"interface_address"`

	// TimeoutMs is the total reply collection window in milliseconds.
	TimeoutMs int `yaml:"timeout_ms"`

	// BurstCount is how many request datagrams are sent per interface.
	BurstCount int `yaml:"burst_count"`

	// BurstIntervalMs is the spacing between request datagrams.
	BurstIntervalMs int `yaml:"burst_interval_ms"`
}

// UnitsConfig contains unit engine settings.
type UnitsConfig struct {
	// PollInterval is the fixed interval between point polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WriteTimeout guards every single write transaction.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RediscoveryInterval is how often an unavailable unit is relocated.
	RediscoveryInterval time.Duration `yaml:"rediscovery_interval"`

	// LocalPort is the local UDP port the point-protocol client binds to.
	LocalPort int `yaml:"local_port"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VENTLOGIC_SECTION_KEY
// For example: VENTLOGIC_DATABASE_PATH, VENTLOGIC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Vent Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/ventlogic.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ventlogic-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Enabled:         true,
			TimeoutMs:       5000,
			BurstCount:      10,
			BurstIntervalMs: 300,
		},
		Units: UnitsConfig{
			PollInterval:        10 * time.Second,
			WriteTimeout:        5 * time.Second,
			RediscoveryInterval: 60 * time.Second,
			LocalPort:           47808,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VENTLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VENTLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VENTLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VENTLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VENTLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("VENTLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Discovery
	if v := os.Getenv("VENTLOGIC_DISCOVERY_INTERFACE"); v != "" {
		cfg.Discovery.InterfaceAddress = v
	}

	// Units
	if v := os.Getenv("VENTLOGIC_UNITS_LOCAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Units.LocalPort = port
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Discovery validation
	if c.Discovery.TimeoutMs <= 0 {
		errs = append(errs, "discovery.timeout_ms must be positive")
	}
	if c.Discovery.BurstCount <= 0 {
		errs = append(errs, "discovery.burst_count must be positive")
	}
	if c.Discovery.BurstIntervalMs <= 0 {
		errs = append(errs, "discovery.burst_interval_ms must be positive")
	}

	// Unit engine validation
	if c.Units.PollInterval <= 0 {
		errs = append(errs, "units.poll_interval must be positive")
	}
	if c.Units.WriteTimeout <= 0 {
		errs = append(errs, "units.write_timeout must be positive")
	}
	if c.Units.LocalPort < 1 || c.Units.LocalPort > 65535 {
		errs = append(errs, "units.local_port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DiscoveryTimeout returns the discovery collection window as a Duration.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutMs) * time.Millisecond
}

// DiscoveryBurstInterval returns the discovery burst spacing as a Duration.
func (c *Config) DiscoveryBurstInterval() time.Duration {
	return time.Duration(c.Discovery.BurstIntervalMs) * time.Millisecond
}
