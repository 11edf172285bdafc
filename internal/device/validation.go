package device

import "fmt"

// maxNameLength is the maximum permitted device name length.
const maxNameLength = 128

// ValidateDevice checks a device for structural validity before persistence.
//
// Returns:
//   - error: wrapping ErrInvalidName, ErrInvalidStatus, or ErrInvalidConfig
//     describing the first problem found, or nil if valid
func ValidateDevice(d *Device) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if d.Status != "" && !ValidStatus(d.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}

	return ValidateConfig(d.Config)
}

// ValidateConfig checks the control configuration for consistency.
// Inverted ranges would make the auto-control loop oscillate: the fan
// would be commanded on and off by the same reading.
func ValidateConfig(cfg Config) error {
	if cfg.TempMin >= cfg.TempMax {
		return fmt.Errorf("%w: temp_min (%.1f) must be below temp_max (%.1f)",
			ErrInvalidConfig, cfg.TempMin, cfg.TempMax)
	}
	if cfg.HumidityMin >= cfg.HumidityMax {
		return fmt.Errorf("%w: humidity_min (%.1f) must be below humidity_max (%.1f)",
			ErrInvalidConfig, cfg.HumidityMin, cfg.HumidityMax)
	}
	if cfg.HumidityMin < 0 || cfg.HumidityMax > 100 {
		return fmt.Errorf("%w: humidity bounds must stay within 0..100", ErrInvalidConfig)
	}
	if cfg.GasMax <= 0 {
		return fmt.Errorf("%w: gas_max must be positive", ErrInvalidConfig)
	}
	if cfg.SamplingInterval <= 0 {
		return fmt.Errorf("%w: sampling_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
