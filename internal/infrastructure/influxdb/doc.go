// Package influxdb records device agent activity in InfluxDB.
//
// Client wraps the official influxdb-client-go v2 library with batched,
// non-blocking writes and health checks. History turns pipeline activity
// (operation outcomes and latency, inbound events, connection changes and
// unhandled failures) into points, and plugs into the pipeline as a Recorder.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	recorder := influxdb.NewHistory(client, id.DeviceID, id.ModuleID)
//
// # Measurements
//
//   - device_operations: tags operation, outcome; fields elapsed_ms, error, status
//   - device_events: tags event, handled; field count
//   - device_connection: field connected
//   - device_failures: field error
//
// Write errors are delivered asynchronously through SetOnError.
package influxdb
