// Package events carries FrameGate's device and discovery notifications to
// the outside world: the UI WebSocket stream, MQTT and InfluxDB.
//
// Producers (the device connection, the registry and the discovery scanner)
// publish to a single Sink. Publishing never blocks on, or fails because
// of, a slow or broken consumer.
package events

import (
	"context"
	"strings"
	"time"
)

// Type identifies an event.
type Type string

// Event types.
const (
	DeviceSelected        Type = "device.selected"
	ConnectionLost        Type = "device.connection_lost"
	ArtworkUploaded       Type = "artwork.uploaded"
	ArtworkDeleted        Type = "artwork.deleted"
	ArtworkSelected       Type = "artwork.selected"
	ThumbnailRetry        Type = "thumbnail.retry"
	ThumbnailCacheFlushed Type = "thumbnail_cache.flushed"
	DiscoveryCompleted    Type = "discovery.completed"
	OperationCompleted    Type = "operation.completed"
)

// Types lists every event type in a stable order.
func Types() []Type {
	return []Type{
		DeviceSelected,
		ConnectionLost,
		ArtworkUploaded,
		ArtworkDeleted,
		ArtworkSelected,
		ThumbnailRetry,
		ThumbnailCacheFlushed,
		DiscoveryCompleted,
		OperationCompleted,
	}
}

// Family returns the part of t before the first dot: "artwork" for
// artwork.deleted.
func (t Type) Family() string {
	family, _, _ := strings.Cut(string(t), ".")
	return family
}

// Event is one notification.
//
// Operation, Duration and Err are set for OperationCompleted events, which
// record the timing of a single device call.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Address   string         `json:"address,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Duration  time.Duration  `json:"duration_ns,omitempty"`
	Err       string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block for long.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Fanout publishes each event to every sink in order. Nil sinks are skipped.
type Fanout []Sink

// Publish stamps the event if needed and forwards it.
func (f Fanout) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, e)
		}
	}
}

// IsOperation reports whether e is an operation timing rather than a state change.
func (e Event) IsOperation() bool {
	return e.Type == OperationCompleted
}
