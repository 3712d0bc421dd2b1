// Package mqtt connects the switchboard core to an MQTT broker.
//
// The broker is an optional second transport next to the HTTP API: worker
// events and status changes are published per service, and commands
// published by other programs are forwarded to the workers.
//
//	switchboard/bridge/{service}/command   in:  forwarded with Send
//	switchboard/bridge/{service}/event     out: worker events verbatim
//	switchboard/bridge/{service}/status    out: retained current status
//	switchboard/system/status              out: retained core online/offline (LWT)
//
// The prefix comes from mqtt.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllBridgeCommands(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        service, _, _ := client.Topics().ParseBridgeTopic(topic)
//	        return manager.Send(service, string(payload))
//	    })
//
// Connect fails fast when the broker is unreachable; after the first
// connection paho reconnects automatically and subscriptions are restored.
package mqtt
