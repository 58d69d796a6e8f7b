package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "framegate"

// Topics builds FrameGate's MQTT topic names under a prefix.
//
//	topics := mqtt.NewTopics("framegate")
//	topics.Event("artwork.uploaded") // "framegate/event/artwork.uploaded"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Event returns the topic for one event type.
//
// Example: framegate/event/device.selected
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.Prefix(), eventType)
}

// AllEvents is the wildcard matching every event topic.
func (t Topics) AllEvents() string {
	return t.Prefix() + "/event/+"
}

// DeviceStatus is the retained topic holding the selected TV's last known
// state.
//
// Example: framegate/device/status
func (t Topics) DeviceStatus() string {
	return t.Prefix() + "/device/status"
}

// SystemStatus is the retained topic for FrameGate's own online/offline
// state, also used as the Last Will topic.
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}
