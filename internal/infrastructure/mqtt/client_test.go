package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/framegate/internal/infrastructure/config"
)

// testConfig points at a port nothing listens on.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     19998,
			ClientID: "framegate-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "framegate",
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	_, err := Connect(testConfig())
	if err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true for zero Client")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var client *Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{name: "empty topic", topic: "", payload: []byte("{}"), qos: 1, want: ErrInvalidTopic},
		{name: "invalid qos", topic: "framegate/event/x", payload: []byte("{}"), qos: 3, want: ErrInvalidQoS},
		{name: "oversized payload", topic: "framegate/event/x", payload: make([]byte, maxPayloadSize+1), qos: 1, want: ErrPublishFailed},
		{name: "valid but disconnected", topic: "framegate/event/x", payload: []byte("{}"), qos: 1, want: ErrNotConnected},
		{name: "nil payload disconnected", topic: "framegate/event/x", payload: nil, qos: 0, want: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		got    func(Topics) string
		want   string
	}{
		{name: "event", prefix: "framegate", got: func(t Topics) string { return t.Event("artwork.uploaded") }, want: "framegate/event/artwork.uploaded"},
		{name: "all events", prefix: "framegate", got: Topics.AllEvents, want: "framegate/event/+"},
		{name: "device status", prefix: "framegate", got: Topics.DeviceStatus, want: "framegate/device/status"},
		{name: "system status", prefix: "framegate", got: Topics.SystemStatus, want: "framegate/system/status"},
		{name: "custom prefix", prefix: "home/lounge/frame", got: Topics.DeviceStatus, want: "home/lounge/frame/device/status"},
		{name: "trimmed prefix", prefix: " /tv/ ", got: Topics.SystemStatus, want: "tv/system/status"},
		{name: "empty prefix", prefix: "", got: Topics.DeviceStatus, want: "framegate/device/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(NewTopics(tt.prefix)); got != tt.want {
				t.Errorf("topic = %q, want %q", got, tt.want)
			}
		})
	}

	var zero Topics
	if got := zero.Event("x"); got != "framegate/event/x" {
		t.Errorf("zero Topics Event() = %q", got)
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:19998" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:19998" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "frame", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if opts.ClientID != "framegate-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "frame" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v; want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not set for a TLS broker")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("framegate"), "framegate-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("will enabled = %v, retained = %v; want both true", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "framegate/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status systemStatus
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "framegate-test" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestStatusPayload(t *testing.T) {
	payload := string(statusPayload("online", "framegate", ""))
	if !strings.Contains(payload, `"status":"online"`) {
		t.Errorf("payload = %s", payload)
	}
	if strings.Contains(payload, "reason") {
		t.Errorf("online payload carries a reason: %s", payload)
	}
}
