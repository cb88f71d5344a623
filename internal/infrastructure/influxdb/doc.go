// Package influxdb records accuracy telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
// EventSink turns service events that carry numeric fields (calibration
// residuals, infield accuracy estimates, dataset sizes) into points of the
// "vision_events" measurement, tagged by event type and camera serial.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bus.Attach("influxdb", influxdb.NewEventSink(client))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are batched and asynchronous; their errors are delivered to the
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
