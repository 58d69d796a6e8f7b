// Package mqtt provides MQTT connectivity for FrameGate.
//
// FrameGate only publishes. Home automation systems subscribe to:
//
//	framegate/event/<type>     device and discovery events (not retained)
//	framegate/device/status    last known state of the selected TV (retained)
//	framegate/system/status    FrameGate online/offline, with Last Will (retained)
//
// The prefix is configurable with mqtt.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishEvent(client.Topics().Event("artwork.uploaded"), payload)
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) when the broker is not on localhost
//   - Credentials are validated against the broker ACL
package mqtt
