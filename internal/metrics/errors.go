package metrics

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("metrics_invalid_listen")

	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")
)
