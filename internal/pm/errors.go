package pm

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	ErrStoreAccess = errors.ErrorCode("pm_store_access_failed")
)
