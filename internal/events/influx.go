package events

import (
	"context"
	"errors"
	"time"
)

// MetricsWriter is the part of *influxdb.Client the metrics sink uses.
type MetricsWriter interface {
	WriteOperation(address, operation string, d time.Duration, callErr error, at time.Time)
	WriteEvent(address, eventType string, at time.Time)
	WriteDiscovery(found, skipped int, d time.Duration, at time.Time)
}

// MetricsSink turns events into time-series points. Writes are
// non-blocking, so it needs no Async wrapper.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink returns a sink writing through w.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Publish implements Sink.
func (s *MetricsSink) Publish(_ context.Context, e Event) {
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Type {
	case OperationCompleted:
		var callErr error
		if e.Err != "" {
			callErr = errors.New(e.Err)
		}
		s.w.WriteOperation(e.Address, e.Operation, e.Duration, callErr, at)
	case DiscoveryCompleted:
		s.w.WriteDiscovery(payloadInt(e.Payload, "devices"), payloadInt(e.Payload, "skipped"), e.Duration, at)
	default:
		s.w.WriteEvent(e.Address, string(e.Type), at)
	}
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
