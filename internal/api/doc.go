// Package api serves the switchboard HTTP and WebSocket gateway.
//
// Routes (all under /api/v1):
//
//	GET  /health                     dependency health, no auth
//	GET  /ws?ticket=...              WebSocket event stream
//	GET  /metrics                    runtime and bridge counters
//	POST /auth/ws-ticket             exchange a bearer token for a WS ticket
//	GET  /bridges                    every supervised service
//	GET  /bridges/{service}/status   {"service":..,"status":..}
//	POST /bridges/{service}/start    begin supervising (202)
//	POST /bridges/{service}/send     forward one command line
//
// WebSocket clients subscribe to per-service channels named
// "bridge-event-{service}" and receive each worker event verbatim as the
// payload of an "event" frame.
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
