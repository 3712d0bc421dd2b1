package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement and event tag values for bridge lifecycle points.
const (
	MeasurementBridgeLifecycle = "bridge_lifecycle"

	EventSpawn       = "spawn"
	EventSpawnFailed = "spawn_failed"
	EventExit        = "exit"
	EventStatus      = "status"
)

// WriteBridgeSpawn records a successful worker spawn.
func (c *Client) WriteBridgeSpawn(service string, pid int) {
	c.writeLifecycle(service, EventSpawn, map[string]interface{}{
		"pid": pid,
	})
}

// WriteBridgeSpawnFailed records a failed spawn attempt.
func (c *Client) WriteBridgeSpawnFailed(service string, reason string) {
	c.writeLifecycle(service, EventSpawnFailed, map[string]interface{}{
		"count":  1,
		"reason": reason,
	})
}

// WriteBridgeExit records a worker exit with its code and how long it ran.
func (c *Client) WriteBridgeExit(service string, exitCode int, uptime time.Duration) {
	c.writeLifecycle(service, EventExit, map[string]interface{}{
		"exit_code":      exitCode,
		"uptime_seconds": uptime.Seconds(),
	})
}

// WriteBridgeStatus records a status transition.
func (c *Client) WriteBridgeStatus(service string, status string) {
	c.writeLifecycle(service, EventStatus, map[string]interface{}{
		"status": status,
	})
}

func (c *Client) writeLifecycle(service, event string, fields map[string]interface{}) {
	c.WritePoint(MeasurementBridgeLifecycle,
		map[string]string{
			"service": service,
			"event":   event,
		},
		fields,
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
