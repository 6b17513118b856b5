package peripheral

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/otnpmon/internal/errors"
)

// SlotStatus is the lifecycle state of one module slot.
type SlotStatus int

const (
	SlotEmpty SlotStatus = iota
	SlotInit
	SlotReady
	SlotMismatch
	SlotComFail
	SlotBootFail
	SlotUnknown
)

var slotStatusNames = [...]string{
	SlotEmpty:    "EMPTY",
	SlotInit:     "INIT",
	SlotReady:    "READY",
	SlotMismatch: "MISMATCH",
	SlotComFail:  "COMFAIL",
	SlotBootFail: "BOOTFAIL",
	SlotUnknown:  "UNKNOWN",
}

func (s SlotStatus) String() string {
	if s < 0 || int(s) >= len(slotStatusNames) {
		return "SLOTSTATUS(" + strconv.Itoa(int(s)) + ")"
	}
	return slotStatusNames[s]
}

// ParseSlotStatus accepts the persisted name in any case.
func ParseSlotStatus(name string) (SlotStatus, error) {
	upper := strings.ToUpper(name)
	for i, n := range slotStatusNames {
		if n == upper {
			return SlotStatus(i), nil
		}
	}
	return 0, errors.New().WithData(ErrUnknownSlotStatus, name)
}

// OperStatus is the operator view of a SlotStatus.
type OperStatus int

const (
	OperActive OperStatus = iota
	OperInactive
	OperDisabled
)

func (o OperStatus) String() string {
	switch o {
	case OperActive:
		return "ACTIVE"
	case OperInactive:
		return "INACTIVE"
	case OperDisabled:
		return "DISABLED"
	default:
		return "OPERSTATUS(" + strconv.Itoa(int(o)) + ")"
	}
}

// OperStatus derives the operational status.
func (s SlotStatus) OperStatus() OperStatus {
	switch s {
	case SlotReady:
		return OperActive
	case SlotInit, SlotComFail:
		return OperInactive
	default:
		return OperDisabled
	}
}
