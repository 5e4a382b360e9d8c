// Package mqtt bridges the unit engine onto the hub's MQTT surface: it
// publishes capability values, availability and settings per unit, and
// turns inbound command messages into engine operations.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	infra "github.com/nerrad567/vent-logic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vent-logic-core/internal/unit"
)

// settingsTolerance is the comparison slack used before writing a
// setting back to the store, to avoid churn from float jitter.
const settingsTolerance = 0.5

// commandTimeout bounds one inbound command end to end, queue wait
// included.
const commandTimeout = 30 * time.Second

// Command capabilities accepted on ventlogic/command/{unit}/{capability}.
const (
	cmdMode           = "mode"
	cmdTargetTemp     = "target_temperature"
	cmdFilterInterval = "filter_interval"
	cmdFilterReset    = "filter_reset"
	cmdFanPrefix      = "fan_" // fan_home, fan_away, fan_high, fan_cooker
)

// Logger is the minimal logging interface the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the MQTT client surface the bridge uses.
type Publisher interface {
	PublishString(topic, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler infra.MessageHandler) error
}

// Engine is the unit-engine surface commands dispatch into. Implemented
// by *unit.Registry.
type Engine interface {
	SetMode(ctx context.Context, unitID string, mode unit.Mode) error
	SetTargetTemperature(ctx context.Context, unitID string, celsius float64) error
	SetFanProfile(ctx context.Context, unitID string, profile unit.FanProfileMode, supply, extract float64) error
	SetFilterInterval(ctx context.Context, unitID string, hours float64) error
	ResetFilterTimer(ctx context.Context, unitID string) error
}

// Store is the settings persistence the bridge reconciles against.
// Implemented by *settings.Store.
type Store interface {
	Setting(ctx context.Context, unitID, key string) (float64, bool)
	SetSettings(ctx context.Context, unitID string, settings map[string]float64) error
	SaveEndpoint(ctx context.Context, unitID, ip string, port int) error
}

// Recorder receives telemetry samples; nil disables recording.
// Implemented by *influxdb.Client.
type Recorder interface {
	WriteCapabilitySample(unitID, capability string, value float64)
	WriteAvailability(unitID string, available bool)
}

// Bridge connects the unit engine to MQTT, the settings store and the
// telemetry recorder.
type Bridge struct {
	pub      Publisher
	engine   Engine
	store    Store
	recorder Recorder
	logger   Logger
	topics   infra.Topics
}

// Config configures a Bridge.
type Config struct {
	Publisher Publisher
	Engine    Engine
	Store     Store
	Recorder  Recorder // optional
	Logger    Logger   // optional
}

// New creates a bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Publisher == nil || cfg.Engine == nil || cfg.Store == nil {
		return nil, fmt.Errorf("mqtt bridge: publisher, engine and store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		pub:      cfg.Publisher,
		engine:   cfg.Engine,
		store:    cfg.Store,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// BindUnit subscribes to a unit's command topics and returns the sink to
// register with the engine.
func (b *Bridge) BindUnit(unitID string) (unit.Sink, error) {
	pattern := b.topics.UnitCommands(unitID)
	if err := b.pub.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		return b.handleCommand(unitID, topic, payload)
	}); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	return &unitSink{bridge: b, unitID: unitID}, nil
}

// handleCommand dispatches one inbound command message.
func (b *Bridge) handleCommand(unitID, topic string, payload []byte) error {
	capability := topic[strings.LastIndexByte(topic, '/')+1:]
	body := strings.TrimSpace(string(payload))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b.logger.Debug("command received", "unit_id", unitID, "capability", capability, "payload", body)

	var err error
	switch {
	case capability == cmdMode:
		var mode unit.Mode
		if mode, err = unit.ParseMode(body); err == nil {
			err = b.engine.SetMode(ctx, unitID, mode)
		}

	case capability == cmdTargetTemp:
		var celsius float64
		if celsius, err = strconv.ParseFloat(body, 64); err != nil {
			err = fmt.Errorf("parsing temperature %q: %w", body, err)
		} else {
			err = b.engine.SetTargetTemperature(ctx, unitID, celsius)
		}

	case capability == cmdFilterInterval:
		var hours float64
		if hours, err = strconv.ParseFloat(body, 64); err != nil {
			err = fmt.Errorf("parsing filter interval %q: %w", body, err)
		} else {
			err = b.engine.SetFilterInterval(ctx, unitID, hours)
		}

	case capability == cmdFilterReset:
		err = b.engine.ResetFilterTimer(ctx, unitID)

	case strings.HasPrefix(capability, cmdFanPrefix):
		err = b.handleFanCommand(ctx, unitID, capability, payload)

	default:
		b.logger.Warn("unknown command capability", "unit_id", unitID, "capability", capability)
		return nil
	}

	if err != nil {
		b.logger.Warn("command failed",
			"unit_id", unitID, "capability", capability, "payload", body, "error", err)
	}
	return err
}

// fanCommand is the payload of a fan_{profile} command.
type fanCommand struct {
	Supply  float64 `json:"supply"`
	Extract float64 `json:"extract"`
}

func (b *Bridge) handleFanCommand(ctx context.Context, unitID, capability string, payload []byte) error {
	profile, err := fanProfileFromName(strings.TrimPrefix(capability, cmdFanPrefix))
	if err != nil {
		return err
	}
	var cmd fanCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing fan command: %w", err)
	}
	return b.engine.SetFanProfile(ctx, unitID, profile, cmd.Supply, cmd.Extract)
}

func fanProfileFromName(name string) (unit.FanProfileMode, error) {
	for _, p := range []unit.FanProfileMode{unit.FanAway, unit.FanHome, unit.FanHigh, unit.FanCooker} {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown fan profile %q", name)
}

// unitSink adapts the bridge to the engine's per-unit sink contract.
type unitSink struct {
	bridge *Bridge
	unitID string
}

func (s *unitSink) GetSetting(key string) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.bridge.store.Setting(ctx, s.unitID, key)
}

func (s *unitSink) PushCapability(name string, value any) error {
	b := s.bridge
	topic := b.topics.UnitCapability(s.unitID, name)

	var payload string
	switch v := value.(type) {
	case string:
		payload = v
	case bool:
		payload = strconv.FormatBool(v)
	case float64:
		payload = strconv.FormatFloat(v, 'g', -1, 64)
		if b.recorder != nil {
			b.recorder.WriteCapabilitySample(s.unitID, name, v)
		}
	default:
		payload = fmt.Sprintf("%v", v)
	}

	return b.pub.PublishString(topic, payload, 0, true)
}

func (s *unitSink) PushSettings(settings map[string]float64) error {
	b := s.bridge
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Only persist what actually moved; tolerance absorbs float jitter
	// and the device's own rounding.
	changed := make(map[string]float64, len(settings))
	for key, value := range settings {
		if current, ok := b.store.Setting(ctx, s.unitID, key); ok && math.Abs(current-value) < settingsTolerance {
			continue
		}
		changed[key] = value
	}
	if len(changed) == 0 {
		return nil
	}

	if err := b.store.SetSettings(ctx, s.unitID, changed); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}

	blob, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return b.pub.PublishString(b.topics.UnitSettings(s.unitID), string(blob), 0, true)
}

func (s *unitSink) SetAvailable(available bool) {
	b := s.bridge
	payload := "offline"
	if available {
		payload = "online"
	}
	if err := b.pub.PublishString(b.topics.UnitAvailability(s.unitID), payload, 1, true); err != nil {
		b.logger.Warn("availability publish failed", "unit_id", s.unitID, "error", err)
	}
	if b.recorder != nil {
		b.recorder.WriteAvailability(s.unitID, available)
	}
}

func (s *unitSink) SaveEndpoint(ip string, port int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.bridge.store.SaveEndpoint(ctx, s.unitID, ip, port)
}
