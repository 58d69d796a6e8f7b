package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/framegate/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the sinks.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// MQTTPublisher is the part of *mqtt.Client the MQTT sink uses.
type MQTTPublisher interface {
	PublishEvent(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// DeviceStatus is the retained payload on <prefix>/device/status.
type DeviceStatus struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name,omitempty"`
	Connected   bool      `json:"connected"`
	APIVersion  string    `json:"api_version,omitempty"`
	LastEvent   Type      `json:"last_event"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MQTTSink publishes state-change events to <prefix>/event/<type> and keeps
// the retained device status topic current. Operation timings are not
// published. Publishing waits for the broker, so wrap the sink in Async.
type MQTTSink struct {
	pub    MQTTPublisher
	topics mqtt.Topics
	logger Logger

	mu     sync.Mutex
	status DeviceStatus
}

// NewMQTTSink returns a sink publishing through pub.
func NewMQTTSink(pub MQTTPublisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics, logger: noopLogger{}}
}

// SetLogger sets the logger for publish failures.
func (s *MQTTSink) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Publish implements Sink.
func (s *MQTTSink) Publish(_ context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if !e.IsOperation() {
		payload, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("encoding event for MQTT", "type", e.Type, "error", err)
			return
		}
		if err := s.pub.PublishEvent(s.topics.Event(string(e.Type)), payload); err != nil {
			s.logger.Warn("publishing event to MQTT", "type", e.Type, "error", err)
		}
	}

	status, changed := s.track(e)
	if !changed {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("encoding device status for MQTT", "error", err)
		return
	}
	if err := s.pub.PublishRetained(s.topics.DeviceStatus(), payload); err != nil {
		s.logger.Warn("publishing device status to MQTT", "error", err)
	}
}

// track folds e into the device status and reports whether it changed.
func (s *MQTTSink) track(e Event) (DeviceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case e.Type == DeviceSelected:
		s.status = DeviceStatus{
			Address:     e.Address,
			DisplayName: payloadString(e.Payload, "display_name"),
			Connected:   true,
			APIVersion:  payloadString(e.Payload, "api_version"),
		}
	case e.Address == "" || e.Address != s.status.Address:
		return DeviceStatus{}, false
	case e.Type == ConnectionLost && s.status.Connected:
		s.status.Connected = false
	case e.Type == OperationCompleted && e.Err == "" && !s.status.Connected:
		s.status.Connected = true
	default:
		return DeviceStatus{}, false
	}

	s.status.LastEvent = e.Type
	s.status.UpdatedAt = e.Timestamp
	return s.status, true
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}
