package mqtt

import (
	"strings"
	"testing"

	"github.com/fawkner/cbus-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "test-client",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
		TopicRoot: "cbus",
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}

	if opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want %q", opts.Servers[0].String(), "tcp://localhost:1883")
	}

	if opts.ClientID != "test-client" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "test-client")
	}

	if opts.Username != "user" {
		t.Errorf("Username = %q, want %q", opts.Username, "user")
	}

	if !opts.AutoReconnect {
		t.Error("expected AutoReconnect to be enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want %q", opts.Servers[0].Scheme, "ssl")
	}

	if opts.TLSConfig == nil {
		t.Fatal("expected TLS config to be set")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	topics := Topics{Root: cfg.TopicRoot}
	opts := buildClientOptions(cfg)

	configureLWT(opts, topics, cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("expected will to be enabled")
	}

	if opts.WillTopic != "cbus/bridge/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "cbus/bridge/status")
	}

	if !opts.WillRetained {
		t.Error("expected will to be retained")
	}

	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %q, missing offline status", opts.WillPayload)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Root: "cbus"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"bridge status", topics.BridgeStatus(), "cbus/bridge/status"},
		{"bridge stats", topics.BridgeStats(), "cbus/bridge/stats"},
		{"all read", topics.AllRead(), "cbus/read/#"},
		{"all write", topics.AllWrite(), "cbus/write/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}

	if err := c.Publish("cbus/read/1", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("invalid qos error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); err != ErrInvalidTopic {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}

	if err := c.Subscribe("cbus/write/#", 3, func(string, []byte) error { return nil }); err != ErrInvalidQoS {
		t.Errorf("invalid qos error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}

	c.subscriptions["cbus/write/#"] = subscription{topic: "cbus/write/#", qos: 1}

	if !c.HasSubscription("cbus/write/#") {
		t.Error("expected HasSubscription to report tracked topic")
	}

	if c.HasSubscription("cbus/read/#") {
		t.Error("did not expect HasSubscription for untracked topic")
	}
}
