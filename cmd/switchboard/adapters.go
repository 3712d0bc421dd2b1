package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/switchboard-core/internal/bridge"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/logging"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/mqtt"
)

// mqttPublishClient is the subset of *mqtt.Client the publisher needs.
type mqttPublishClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// mqttPublisher forwards bridge events to {prefix}/bridge/{service}/event
// and publishes each status change, retained, to
// {prefix}/bridge/{service}/status.
//
// It is both a bridge.EventSink and a bridge.Observer.
type mqttPublisher struct {
	client mqttPublishClient
	topics mqtt.Topics
	qos    byte
	log    *logging.Logger
}

func newMQTTPublisher(client *mqtt.Client, log *logging.Logger) *mqttPublisher {
	return &mqttPublisher{
		client: client,
		topics: client.Topics(),
		qos:    client.QoS(),
		log:    log.With("component", "mqtt_publisher"),
	}
}

// Emit implements bridge.EventSink. Events are not retained; a late
// subscriber asks for the status topic instead.
func (p *mqttPublisher) Emit(service string, payload json.RawMessage) {
	if err := p.client.Publish(p.topics.BridgeEvent(service), payload, p.qos, false); err != nil {
		p.log.Warn("failed to publish bridge event", "bridge", service, "error", err)
	}
}

type bridgeStatusMessage struct {
	Service   string        `json:"service"`
	Status    bridge.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// BridgeStatusChanged implements bridge.Observer.
func (p *mqttPublisher) BridgeStatusChanged(service string, status bridge.Status) {
	payload, err := json.Marshal(bridgeStatusMessage{
		Service:   service,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error("failed to encode bridge status", "bridge", service, "error", err)
		return
	}
	if err := p.client.PublishRetained(p.topics.BridgeStatus(service), payload); err != nil {
		p.log.Warn("failed to publish bridge status", "bridge", service, "error", err)
	}
}

func (p *mqttPublisher) BridgeSpawned(string, int)               {}
func (p *mqttPublisher) BridgeSpawnFailed(string, error)         {}
func (p *mqttPublisher) BridgeExited(string, int, time.Duration) {}

// influxObserver records bridge lifecycle telemetry.
type influxObserver struct {
	client *influxdb.Client
}

func (o influxObserver) BridgeSpawned(service string, pid int) {
	o.client.WriteBridgeSpawn(service, pid)
}

func (o influxObserver) BridgeSpawnFailed(service string, err error) {
	o.client.WriteBridgeSpawnFailed(service, err.Error())
}

func (o influxObserver) BridgeStatusChanged(service string, status bridge.Status) {
	o.client.WriteBridgeStatus(service, status.String())
}

func (o influxObserver) BridgeExited(service string, code int, uptime time.Duration) {
	o.client.WriteBridgeExit(service, code, uptime)
}

// commandSender is the part of the command gateway MQTT ingress uses.
type commandSender interface {
	Send(service, message string) error
}

var errEmptyCommand = errors.New("empty command payload")

// commandHandler forwards messages on {prefix}/bridge/{service}/command to
// the worker for that service. Errors are logged by the MQTT client.
func commandHandler(topics mqtt.Topics, sender commandSender) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		service, kind, ok := topics.ParseBridgeTopic(topic)
		if !ok || kind != mqtt.KindCommand {
			return fmt.Errorf("unexpected command topic %q", topic)
		}
		if err := bridge.ValidateService(service); err != nil {
			return err
		}

		message, err := commandFromPayload(payload)
		if err != nil {
			return fmt.Errorf("bridge %q: %w", service, err)
		}
		if err := sender.Send(service, message); err != nil {
			return fmt.Errorf("forwarding command to bridge %q: %w", service, err)
		}
		return nil
	}
}

// commandFromPayload turns an MQTT payload into one worker line. JSON is
// compacted so it cannot span lines; anything else is sent as text.
func commandFromPayload(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", errEmptyCommand
	}
	if json.Valid(trimmed) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err == nil {
			return compact.String(), nil
		}
	}
	return string(trimmed), nil
}
