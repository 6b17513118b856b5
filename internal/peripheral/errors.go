package peripheral

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	ErrUnknownSlotStatus     = errors.ErrorCode("peripheral_unknown_slot_status")
	ErrSyncFailed            = errors.ErrorCode("peripheral_sync_failed")
	ErrInventoryUnavailable  = errors.ErrorCode("peripheral_inventory_unavailable")
	ErrStoreAccess           = errors.ErrorCode("peripheral_store_access_failed")
	ErrInvalidSyncInterval   = errors.ErrorCode("peripheral_invalid_sync_interval")
	ErrNoPeripheralsDeclared = errors.ErrorCode("peripheral_none_declared")
)
