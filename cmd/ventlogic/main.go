// Command ventlogic is the ventilation-unit communication daemon: it
// discovers units on the LAN, polls them over the point protocol,
// bridges their state onto MQTT and records telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
	"github.com/nerrad567/vent-logic-core/internal/bacnet/bacip"
	mqttbridge "github.com/nerrad567/vent-logic-core/internal/bridges/mqtt"
	"github.com/nerrad567/vent-logic-core/internal/discovery"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/config"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/database"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/logging"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vent-logic-core/internal/settings"
	"github.com/nerrad567/vent-logic-core/internal/unit"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ventlogic %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ventlogic: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting", "site", cfg.Site.ID)

	// Settings store
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening settings database: %w", err)
	}
	defer db.Close() //nolint:errcheck // shutdown path
	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	store := settings.NewStore(db)

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	defer mqttClient.Close() //nolint:errcheck // shutdown path
	mqttClient.SetLogger(logger.With("component", "mqtt"))

	// Telemetry (optional)
	var recorder mqttbridge.Recorder
	influx, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		logger.Info("telemetry disabled")
	case err != nil:
		// Telemetry is best-effort; the engine runs without it.
		logger.Warn("telemetry unavailable", "error", err)
	default:
		defer influx.Close() //nolint:errcheck // shutdown path
		recorder = influx
	}

	// Point-protocol transport
	transports := bacnet.NewManager(bacip.Factory(logger.With("component", "bacip")))
	defer transports.Close() //nolint:errcheck // shutdown path

	discoverFn := func(ctx context.Context, opts discovery.Options) ([]discovery.DiscoveredUnit, error) {
		if opts.InterfaceAddress == "" {
			opts.InterfaceAddress = cfg.Discovery.InterfaceAddress
		}
		opts.Logger = logger.With("component", "discovery")
		return discovery.Discover(ctx, opts)
	}

	// Unit engine
	registry, err := unit.NewRegistry(unit.Config{
		Transports:          transports,
		LocalPort:           cfg.Units.LocalPort,
		Discover:            discoverFn,
		PollInterval:        cfg.Units.PollInterval,
		WriteTimeout:        cfg.Units.WriteTimeout,
		RediscoveryInterval: cfg.Units.RediscoveryInterval,
		Logger:              logger.With("component", "units"),
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	bridge, err := mqttbridge.New(mqttbridge.Config{
		Publisher: mqttClient,
		Engine:    registry,
		Store:     store,
		Recorder:  recorder,
		Logger:    logger.With("component", "bridge"),
	})
	if err != nil {
		return err
	}

	if err := startUnits(ctx, cfg, logger, store, registry, bridge); err != nil {
		return err
	}

	logger.Info("running", "version", version)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// startUnits seeds the settings store via discovery when it is empty,
// then registers every persisted unit with the engine.
func startUnits(ctx context.Context, cfg *config.Config, logger *logging.Logger, store *settings.Store, registry *unit.Registry, bridge *mqttbridge.Bridge) error {
	units, err := store.Units(ctx)
	if err != nil {
		return err
	}

	if len(units) == 0 && cfg.Discovery.Enabled {
		logger.Info("no units persisted, running startup discovery")
		found, err := discovery.Discover(ctx, discovery.Options{
			InterfaceAddress: cfg.Discovery.InterfaceAddress,
			Timeout:          cfg.DiscoveryTimeout(),
			BurstCount:       cfg.Discovery.BurstCount,
			BurstInterval:    cfg.DiscoveryBurstInterval(),
			Logger:           logger.With("component", "discovery"),
		})
		if err != nil {
			return fmt.Errorf("startup discovery: %w", err)
		}
		for _, u := range found {
			unitID, err := store.SaveDiscovered(ctx, u)
			if err != nil {
				return err
			}
			logger.Info("unit persisted", "unit_id", unitID, "serial", u.Serial, "endpoint", fmt.Sprintf("%s:%d", u.IP, u.Port))
		}
		if units, err = store.Units(ctx); err != nil {
			return err
		}
	}

	if len(units) == 0 {
		logger.Warn("no units to manage; pair units and restart, or enable discovery")
		return nil
	}

	for _, u := range units {
		sink, err := bridge.BindUnit(u.UnitID)
		if err != nil {
			return err
		}
		addr := bacnet.Address{IP: u.IP, Port: u.Port}
		if err := registry.Register(u.UnitID, u.Serial, addr, sink); err != nil {
			return err
		}
	}
	logger.Info("units registered", "count", len(units))
	return nil
}
