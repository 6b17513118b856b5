package hardware

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	ErrUnknownPeriphType = errors.ErrorCode("hardware_unknown_periph_type")
	ErrTransport         = errors.ErrorCode("hardware_transport_failed")
	ErrDecodeResponse    = errors.ErrorCode("hardware_decode_response_failed")
	ErrRetriesExhausted  = errors.ErrorCode("hardware_retries_exhausted")
	ErrInvalidSocket     = errors.ErrorCode("hardware_invalid_socket")
)
