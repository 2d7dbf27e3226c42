// Package mqtt provides the local-broker MQTT client for the bridge.
//
// This package manages:
//   - Connection to the local Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) registration for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge mirrors vendor-cloud device traffic onto a local Mosquitto
// broker so home-automation consumers never touch the cloud directly:
//
//	Vendor cloud ↔ Bridge ↔ Mosquitto ↔ Consumers (Home Assistant, etc.)
//
// Cloud sessions use the in-house engine in internal/cloud/mqtt; this
// package only speaks to the local broker. Topic construction lives in
// internal/bridge, which also supplies the LWT registered at connect
// time.
//
// # Security Considerations
//
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted; keep the broker on a trusted
//     network segment
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Mosquitto, cfg.Bridge, &mqtt.Will{
//	    Topic:    "fossibot/bridge/status",
//	    Payload:  "offline",
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("fossibot/+/command", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
