package thermal

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	ErrInvalidInterval = errors.ErrorCode("thermal_invalid_interval")
	ErrInvalidLevels   = errors.ErrorCode("thermal_invalid_levels")
	ErrUnknownFan      = errors.ErrorCode("thermal_unknown_fan")
	ErrInvalidRate     = errors.ErrorCode("thermal_invalid_rate")
	ErrFanControl      = errors.ErrorCode("thermal_fan_control_failed")
	ErrLedControl      = errors.ErrorCode("thermal_led_control_failed")
)
