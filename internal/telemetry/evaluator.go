package telemetry

import "fmt"

// Hard safety ceilings for stored grain. These are properties of the
// commodity, not of any single silo, so they are deliberately not
// configurable per device. Per-device comfort bands live in the device
// config and drive auto-control, not alerting.
const (
	// TempCeiling is the temperature in degrees Celsius above which
	// grain spoilage and self-heating become an immediate hazard.
	TempCeiling = 50.0

	// GasCeiling is the gas concentration (ppm) above which a
	// fumigant leak or fermentation buildup is assumed.
	GasCeiling = 300.0

	// HumidityCeiling is the relative humidity (%) above which mould
	// growth accelerates.
	HumidityCeiling = 85.0
)

// Evaluate classifies a reading against the hard ceilings. It is pure:
// the same reading always yields the same status and alerts.
//
// Rules fire in a fixed order. A reading already marked critical is
// never downgraded by a later rule; the humidity rule only raises
// normal to warning.
func Evaluate(r Reading) (Status, []Alert) {
	status := StatusNormal
	var alerts []Alert

	if r.Temperature > TempCeiling {
		status = StatusCritical
		alerts = append(alerts, Alert{
			Kind:      AlertHighTemperature,
			Message:   fmt.Sprintf("temperature %.1f°C exceeds safety ceiling %.1f°C", r.Temperature, TempCeiling),
			Threshold: TempCeiling,
			Observed:  r.Temperature,
		})
	}

	if r.GasLevel > GasCeiling {
		status = StatusCritical
		alerts = append(alerts, Alert{
			Kind:      AlertGasLeak,
			Message:   fmt.Sprintf("gas level %.0fppm exceeds safety ceiling %.0fppm", r.GasLevel, GasCeiling),
			Threshold: GasCeiling,
			Observed:  r.GasLevel,
		})
	}

	if r.Humidity > HumidityCeiling {
		if status == StatusNormal {
			status = StatusWarning
		}
		alerts = append(alerts, Alert{
			Kind:      AlertHighHumidity,
			Message:   fmt.Sprintf("humidity %.1f%% exceeds mould threshold %.1f%%", r.Humidity, HumidityCeiling),
			Threshold: HumidityCeiling,
			Observed:  r.Humidity,
		})
	}

	return status, alerts
}

// ValidateReading checks a reading's values against the ranges accepted
// at ingest: temperature -50..100°C, humidity 0..100%, gas >= 0.
func ValidateReading(r Reading) error {
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidReading)
	}
	if r.Temperature < -50 || r.Temperature > 100 {
		return fmt.Errorf("%w: temperature %.1f outside -50..100", ErrInvalidReading, r.Temperature)
	}
	if r.Humidity < 0 || r.Humidity > 100 {
		return fmt.Errorf("%w: humidity %.1f outside 0..100", ErrInvalidReading, r.Humidity)
	}
	if r.GasLevel < 0 {
		return fmt.Errorf("%w: gas level %.1f is negative", ErrInvalidReading, r.GasLevel)
	}
	return nil
}
