package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies a reading after evaluation.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// AlertKind identifies the threshold rule that raised an alert.
type AlertKind string

const (
	AlertHighTemperature AlertKind = "high_temperature"
	AlertGasLeak         AlertKind = "gas_leak"
	AlertHighHumidity    AlertKind = "high_humidity"
)

// Alert records a single threshold violation found during evaluation.
// Alerts are emitted to the notification pipeline, not stored.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	Threshold float64   `json:"threshold"`
	Observed  float64   `json:"observed"`
}

// Reading is one telemetry sample from a device. Readings are immutable
// once stored; Status is derived by the evaluator before insert.
type Reading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	GasLevel    float64   `json:"gas_level"`
	Status      Status    `json:"status"`
	RecordedAt  time.Time `json:"recorded_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerateID returns a new unique reading identifier.
func GenerateID() string {
	return uuid.New().String()
}
