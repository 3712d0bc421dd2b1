// Package influxdb records bridge lifecycle telemetry in InfluxDB v2.
//
// Every spawn, failed spawn, status transition and exit becomes one point in
// the bridge_lifecycle measurement, tagged with the service name and the
// event kind. Dashboards can then chart restart churn and uptime per bridge.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteBridgeSpawn("telegram", pid)
//	client.WriteBridgeExit("telegram", code, uptime)
//
// # Error Handling
//
// Writes are batched and non-blocking. Failures surface through the callback
// registered with SetOnError; Connect and HealthCheck return errors directly.
package influxdb
