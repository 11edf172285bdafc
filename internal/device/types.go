package device

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the connectivity status of a device.
type Status string

// Device connectivity states.
const (
	// StatusOnline means the device is reporting telemetry.
	StatusOnline Status = "online"

	// StatusOffline means the device has gone silent past the staleness
	// threshold, or has never reported.
	StatusOffline Status = "offline"

	// StatusMaintenance means the device is deliberately out of service.
	// Maintenance devices are skipped by the health monitor and the
	// emergency dispatcher.
	StatusMaintenance Status = "maintenance"
)

// ValidStatus reports whether s is a recognised device status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusMaintenance:
		return true
	}
	return false
}

// Config holds the per-device control configuration: the thresholds the
// auto-control loop acts on and the switches that enable automated
// actuation per actuator.
type Config struct {
	// TempMin and TempMax bound the acceptable temperature range (°C).
	TempMin float64 `json:"temp_min"`
	TempMax float64 `json:"temp_max"`

	// HumidityMin and HumidityMax bound the acceptable relative humidity (%).
	HumidityMin float64 `json:"humidity_min"`
	HumidityMax float64 `json:"humidity_max"`

	// GasMax is the maximum acceptable gas level (ppm).
	GasMax float64 `json:"gas_max"`

	// SamplingInterval is how often the device is expected to report, in seconds.
	SamplingInterval int `json:"sampling_interval"`

	// Auto-control switches. When a switch is off, the auto-control loop
	// never issues commands for that actuator.
	AutoFan    bool `json:"auto_fan"`
	AutoPump   bool `json:"auto_pump"`
	AutoBuzzer bool `json:"auto_buzzer"`
}

// DefaultConfig returns the control configuration applied to newly
// registered devices. Thresholds follow common grain-storage practice:
// keep grain cool and moderately dry.
func DefaultConfig() Config {
	return Config{
		TempMin:          10,
		TempMax:          35,
		HumidityMin:      30,
		HumidityMax:      70,
		GasMax:           100,
		SamplingInterval: 60,
	}
}

// Device represents a sensor/actuator unit inside a grain-storage enclosure.
type Device struct {
	// Identity
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`

	// Connectivity
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Control configuration
	Config Config `json:"config"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy creates an independent copy of the Device.
// Pointer fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation in the Registry.
func (d *Device) Copy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.LastSeen != nil {
		ls := *d.LastSeen
		cpy.LastSeen = &ls
	}

	return &cpy
}

// Active reports whether the device participates in monitoring and
// control. Devices in maintenance are registered but inactive.
func (d *Device) Active() bool {
	return d.Status != StatusMaintenance
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
