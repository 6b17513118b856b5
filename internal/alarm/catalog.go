package alarm

import (
	"strconv"

	"codeberg.org/mutker/otnpmon/internal/errors"
)

// Severity ranks an alarm.
type Severity int

const (
	NotAlarmed Severity = iota
	Minor
	Major
	Critical
)

func (s Severity) String() string {
	switch s {
	case NotAlarmed:
		return "NOT_ALARMED"
	case Minor:
		return "MINOR"
	case Major:
		return "MAJOR"
	case Critical:
		return "CRITICAL"
	default:
		return "SEVERITY(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSeverity maps a persisted severity name back to its value.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "NOT_ALARMED":
		return NotAlarmed, nil
	case "MINOR":
		return Minor, nil
	case "MAJOR":
		return Major, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return 0, errors.New().WithData(ErrUnknownSeverity, name)
	}
}

// Definition is the static description of one alarm type.
type Definition struct {
	Severity      Severity
	ServiceAffect bool
	Text          string
}

// Alarm type ids.
const (
	FanFail          = "FAN_FAIL"
	FanHigh          = "FAN_HIGH"
	FanLow           = "FAN_LOW"
	CardMissing      = "CRD_MISS"
	PsuMismatch      = "PSU_MISMATCH"
	CardMismatch     = "CRD_MISMATCH"
	CardUnknown      = "CRD_UNKNOWN"
	DiskFull         = "DISK_FULL"
	ChassisTempHiAlm = "CHASSIS_TEMP_HIALM"
	ChassisTempLoAlm = "CHASSIS_TEMP_LOALM"
	ChassisTempHiWar = "CHASSIS_TEMP_HIWAR"
	ChassisTempLoWar = "CHASSIS_TEMP_LOWAR"
	MemUsageHigh     = "MEM_USAGE_HIGH"
	CPUUsageHigh     = "CPU_USAGE_HIGH"
	CardBootFail     = "CRD_BOOT_FAIL"
	VoltageInputHigh = "VOLTAGE_INPUT_HIGH"
	VoltageInputLow  = "VOLTAGE_INPUT_LOW"
	SlotCommFail     = "SLOT_COMM_FAIL"
)

var catalog = map[string]Definition{
	FanFail:          {Critical, false, "FAN CARD FAIL"},
	FanHigh:          {NotAlarmed, false, "FAN HIGH SPEED"},
	FanLow:           {NotAlarmed, false, "FAN LOW SPEED"},
	CardMissing:      {Major, true, "CARD MISSING"},
	PsuMismatch:      {Critical, false, "PSU CARD MISMATCH"},
	CardMismatch:     {Critical, true, "SLOT CARD MISMATCH"},
	CardUnknown:      {Critical, true, "SLOT CARD UNKNOWN"},
	DiskFull:         {Minor, false, "DISK SPACE ALERT"},
	ChassisTempHiAlm: {Critical, false, "CHASSIS TEMPERATURE HIGH alarm"},
	ChassisTempLoAlm: {Critical, false, "CHASSIS TEMPERATURE LOW alarm"},
	ChassisTempHiWar: {Major, false, "CHASSIS TEMPERATURE HIGH warning"},
	ChassisTempLoWar: {Major, false, "CHASSIS TEMPERATURE LOW warning"},
	MemUsageHigh:     {Critical, false, "MEMORY USAGE ALARM"},
	CPUUsageHigh:     {Major, false, "CPU USAGE ALARM"},
	CardBootFail:     {Critical, true, "CARD BOOT FAIL"},
	VoltageInputHigh: {Critical, false, "VOLTAGE INPUT HIGH"},
	VoltageInputLow:  {Critical, false, "VOLTAGE INPUT LOW"},
	SlotCommFail:     {Critical, true, "SLOT COMMUNICATION FAIL"},
}

// Lookup returns the catalog entry for typeID.
func Lookup(typeID string) (Definition, bool) {
	def, ok := catalog[typeID]
	return def, ok
}
