package alarm

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	ErrUnknownSeverity = errors.ErrorCode("alarm_unknown_severity")
	ErrStoreAccess     = errors.ErrorCode("alarm_store_access_failed")
)
