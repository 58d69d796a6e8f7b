// Package influxdb records FrameGate metrics in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written:
//
//	device_operation  one point per device call: duration_ms, success;
//	                  tagged address, operation, outcome
//	device_event      one point per state change event, tagged type
//	discovery_scan    one point per scan: devices, skipped, duration_ms
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched per influxdb.batch_size and influxdb.flush_interval; write
// failures arrive through SetOnError.
package influxdb
