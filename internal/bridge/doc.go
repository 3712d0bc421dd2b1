// Package bridge supervises bridge worker processes and relays their
// protocol messages.
//
// Each service (for example "telegram" or "signal") is backed by one worker
// executable that speaks newline-delimited JSON on stdin/stdout. The package
// keeps that worker alive, tracks its connection status, and forwards every
// message it prints to an EventSink on the channel "bridge-event-<service>".
//
// # Components
//
//   - Registry: the single shared map from service to live Handle. A missing
//     entry means disconnected.
//   - supervisor: one goroutine per service running
//     spawn → relay → teardown → backoff until cancelled.
//   - Manager: the command gateway (Start, Send, Status, List, Shutdown).
//   - Classify: the pure mapping from protocol messages to Status.
//
// # Status inference
//
//	{"type":"auth.success"}                              → connected
//	{"type":"auth.qr"|"auth.code_needed"|"auth.phone_needed"} → auth_needed
//	{"type":"status","data":{"status":"<status>"}}       → <status>
//
// Anything else is forwarded unchanged without affecting status. When a
// worker exits the registry entry is removed and a single synthetic
// {"status":"disconnected"} event is emitted before the restart delay.
//
// # Usage
//
//	launcher := process.NewLauncher(process.LauncherConfig{Dir: "/opt/switchboard/bin"})
//	mgr := bridge.NewManager(bridge.Options{
//	    Launcher: bridge.NewProcessLauncher(launcher),
//	    Sink:     hub,
//	    Logger:   log,
//	})
//	defer mgr.Shutdown(ctx)
//
//	if err := mgr.Start(ctx, "telegram"); err != nil { ... }
//	err := mgr.Send("telegram", `{"type":"auth.code","data":{"code":"12345"}}`)
package bridge
