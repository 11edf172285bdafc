// Package mqtt provides MQTT client connectivity for Granary Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Granary uses MQTT as the bus between the core and the field gateways
// that front the silo sensor/actuator hardware. The core publishes
// actuator commands to granary/command/{device} and alert events to
// granary/alerts/{device}; gateways publish telemetry and command
// acknowledgements back.
//
//	Granary Core ↔ MQTT Broker ↔ Field Gateways ↔ Silo Hardware
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Command("silo-07-probe")
//	client.Publish(topic, []byte(`{"kind":"fan_on"}`), 1, false)
package mqtt
