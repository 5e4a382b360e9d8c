package mqtt

import (
	"strings"
	"testing"

	"github.com/nerrad567/vent-logic-core/internal/infrastructure/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "unit capability",
			got:  topics.UnitCapability("unit-800131000001", "mode"),
			want: "ventlogic/state/unit-800131000001/mode",
		},
		{
			name: "unit availability",
			got:  topics.UnitAvailability("unit-01"),
			want: "ventlogic/availability/unit-01",
		},
		{
			name: "unit command",
			got:  topics.UnitCommand("unit-01", "target_temperature"),
			want: "ventlogic/command/unit-01/target_temperature",
		},
		{
			name: "unit commands pattern",
			got:  topics.UnitCommands("unit-01"),
			want: "ventlogic/command/unit-01/+",
		},
		{
			name: "unit settings",
			got:  topics.UnitSettings("unit-01"),
			want: "ventlogic/settings/unit-01",
		},
		{
			name: "discovery",
			got:  topics.Discovery(),
			want: "ventlogic/discovery",
		},
		{
			name: "system status",
			got:  topics.SystemStatus(),
			want: "ventlogic/system/status",
		},
		{
			name: "all unit commands",
			got:  topics.AllUnitCommands(),
			want: "ventlogic/command/+/+",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     8883,
			TLS:      true,
			ClientID: "ventlogic-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "user",
			Password: "pass",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.ClientID != "ventlogic-test" {
		t.Errorf("client id = %q, want ventlogic-test", opts.ClientID)
	}
	if opts.Username != "user" {
		t.Errorf("username = %q, want user", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("expected TLS config for ssl broker")
	}
}

func TestBuildStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("ventlogic-core")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, `"client_id":"ventlogic-core"`) {
		t.Errorf("online payload missing client id: %s", online)
	}

	offline := buildOfflinePayload("ventlogic-core")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 0, false); err != ErrInvalidTopic {
		t.Errorf("empty topic: got %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("ventlogic/state/u/x", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("bad qos: got %v, want ErrInvalidQoS", err)
	}
}
