package mqtt

import "fmt"

// Topic prefix for all Granary MQTT traffic.
//
// Scheme: granary/{category}/{device_or_scope}
// Field gateways and the core both follow this layout; alerts use a
// dedicated subtree so delivery services can subscribe narrowly.
const TopicPrefix = "granary"

// Topics provides builders for Granary MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Telemetry returns the topic a device publishes its readings to.
//
// Example: granary/telemetry/silo-07-probe
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, deviceID)
}

// Command returns the topic the core publishes actuator commands to.
//
// Example: granary/command/silo-07-probe
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic a device acknowledges command execution on.
//
// Example: granary/ack/silo-07-probe
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// DeviceAlert returns the alert topic for one device.
//
// Example: granary/alerts/silo-07-probe
func (Topics) DeviceAlert(deviceID string) string {
	return fmt.Sprintf("%s/alerts/%s", TopicPrefix, deviceID)
}

// SystemAlert returns the topic for facility-wide alerts, such as an
// emergency shutdown summary.
func (Topics) SystemAlert() string {
	return fmt.Sprintf("%s/alerts/system", TopicPrefix)
}

// SystemStatus returns the topic carrying the core's online/offline
// status, including the Last Will message.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefix)
}

// AllTelemetry returns a pattern matching telemetry from every device.
//
// Pattern: granary/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// AllAcks returns a pattern matching acknowledgements from every device.
//
// Pattern: granary/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefix)
}

// AllAlerts returns a pattern matching every alert, device or system.
//
// Pattern: granary/alerts/+
func (Topics) AllAlerts() string {
	return fmt.Sprintf("%s/alerts/+", TopicPrefix)
}
