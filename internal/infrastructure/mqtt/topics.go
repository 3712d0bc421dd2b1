package mqtt

import "strings"

// DefaultTopicPrefix is the root of the topic tree when none is configured.
const DefaultTopicPrefix = "switchboard"

// Topic kinds under {prefix}/bridge/{service}/.
const (
	KindCommand = "command"
	KindEvent   = "event"
	KindStatus  = "status"
)

// Topics builds topic names under a common prefix:
//
//	{prefix}/bridge/{service}/command   commands forwarded to the worker
//	{prefix}/bridge/{service}/event     worker events, not retained
//	{prefix}/bridge/{service}/status    current status, retained
//	{prefix}/system/status              core online/offline, retained
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) bridge(service, kind string) string {
	return t.Prefix + "/bridge/" + service + "/" + kind
}

// BridgeCommand returns the command topic for service.
//
// Example: switchboard/bridge/telegram/command
func (t Topics) BridgeCommand(service string) string {
	return t.bridge(service, KindCommand)
}

// BridgeEvent returns the event topic for service.
//
// Example: switchboard/bridge/telegram/event
func (t Topics) BridgeEvent(service string) string {
	return t.bridge(service, KindEvent)
}

// BridgeStatus returns the retained status topic for service.
//
// Example: switchboard/bridge/telegram/status
func (t Topics) BridgeStatus(service string) string {
	return t.bridge(service, KindStatus)
}

// AllBridgeCommands matches the command topic of every service.
func (t Topics) AllBridgeCommands() string {
	return t.bridge("+", KindCommand)
}

// SystemStatus returns the core status topic used for online/offline and LWT.
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}

// ParseBridgeTopic splits a bridge topic into service and kind. ok is false
// for topics outside {prefix}/bridge/.
func (t Topics) ParseBridgeTopic(topic string) (service, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/bridge/")
	if !found {
		return "", "", false
	}
	service, kind, found = strings.Cut(rest, "/")
	if !found || service == "" || kind == "" || strings.Contains(kind, "/") {
		return "", "", false
	}
	return service, kind, true
}
