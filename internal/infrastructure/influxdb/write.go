package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceOperation = "device_operation"
	MeasurementDeviceEvent     = "device_event"
	MeasurementDiscoveryScan   = "discovery_scan"
)

// Outcome tag values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// WriteOperation records the timing of one device call.
//
//	client.WriteOperation("192.168.1.50", "thumbnail", 84*time.Millisecond, nil, time.Now())
func (c *Client) WriteOperation(address, operation string, d time.Duration, callErr error, at time.Time) {
	outcome := OutcomeOK
	if callErr != nil {
		outcome = OutcomeError
	}
	c.WritePointWithTime(MeasurementDeviceOperation,
		map[string]string{
			"address":   address,
			"operation": operation,
			"outcome":   outcome,
		},
		map[string]any{
			"duration_ms": float64(d) / float64(time.Millisecond),
			"success":     callErr == nil,
		},
		at,
	)
}

// WriteEvent counts one device event by type.
func (c *Client) WriteEvent(address, eventType string, at time.Time) {
	tags := map[string]string{"type": eventType}
	if address != "" {
		tags["address"] = address
	}
	c.WritePointWithTime(MeasurementDeviceEvent, tags, map[string]any{"count": 1}, at)
}

// WriteDiscovery records the result of one scan.
func (c *Client) WriteDiscovery(found, skipped int, d time.Duration, at time.Time) {
	c.WritePointWithTime(MeasurementDiscoveryScan,
		nil,
		map[string]any{
			"devices":     found,
			"skipped":     skipped,
			"duration_ms": float64(d) / float64(time.Millisecond),
		},
		at,
	)
}

// WritePointWithTime writes a point with explicit tags, fields and time.
// Points are dropped while disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
