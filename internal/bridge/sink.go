package bridge

import (
	"encoding/json"
	"time"
)

// EventChannelPrefix is prepended to the service name to form its event channel.
const EventChannelPrefix = "bridge-event-"

// ChannelName returns the event channel for a service, e.g. "bridge-event-telegram".
func ChannelName(service string) string {
	return EventChannelPrefix + service
}

// EventSink receives protocol events relayed from workers.
//
// Emit is called from the service's supervisor goroutine, in the order the
// events were read. Implementations must not retain payload beyond the call
// unless they copy it, and should not block for long.
type EventSink interface {
	Emit(service string, payload json.RawMessage)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(service string, payload json.RawMessage)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(service string, payload json.RawMessage) {
	f(service, payload)
}

// MultiSink fans each event out to every sink in order.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(service string, payload json.RawMessage) {
	for _, s := range m {
		if s != nil {
			s.Emit(service, payload)
		}
	}
}

// Observer is notified of worker lifecycle changes. It is used for
// telemetry and bookkeeping; it never influences supervision.
type Observer interface {
	BridgeSpawned(service string, pid int)
	BridgeSpawnFailed(service string, err error)
	BridgeStatusChanged(service string, status Status)
	BridgeExited(service string, code int, uptime time.Duration)
}

// Observers fans lifecycle notifications out to several observers.
type Observers []Observer

func (o Observers) BridgeSpawned(service string, pid int) {
	for _, obs := range o {
		obs.BridgeSpawned(service, pid)
	}
}

func (o Observers) BridgeSpawnFailed(service string, err error) {
	for _, obs := range o {
		obs.BridgeSpawnFailed(service, err)
	}
}

func (o Observers) BridgeStatusChanged(service string, status Status) {
	for _, obs := range o {
		obs.BridgeStatusChanged(service, status)
	}
}

func (o Observers) BridgeExited(service string, code int, uptime time.Duration) {
	for _, obs := range o {
		obs.BridgeExited(service, code, uptime)
	}
}

// Logger defines the logging interface for the bridge package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
