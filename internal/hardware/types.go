package hardware

import (
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/otnpmon/internal/errors"
)

// PeriphType identifies a class of hardware module.
type PeriphType int

const (
	Chassis PeriphType = iota + 1
	CU
	Linecard
	PSU
	Fan
)

// PeriphTypes lists every type in startup order.
var PeriphTypes = []PeriphType{Chassis, CU, Linecard, PSU, Fan}

func (t PeriphType) String() string {
	switch t {
	case Chassis:
		return "CHASSIS"
	case CU:
		return "CU"
	case Linecard:
		return "LINECARD"
	case PSU:
		return "PSU"
	case Fan:
		return "FAN"
	default:
		return "PERIPH(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParsePeriphType maps a type name (case-insensitive) back to its value.
func ParsePeriphType(name string) (PeriphType, error) {
	switch strings.ToUpper(name) {
	case "CHASSIS":
		return Chassis, nil
	case "CU":
		return CU, nil
	case "LINECARD":
		return Linecard, nil
	case "PSU":
		return PSU, nil
	case "FAN":
		return Fan, nil
	default:
		return 0, errors.New().WithData(ErrUnknownPeriphType, name)
	}
}

// Removable reports whether modules of this type can be hot-plugged.
func (t PeriphType) Removable() bool {
	return t == Linecard || t == Fan || t == PSU
}

// ResourceName returns the resource name of a module, e.g. FAN-1-7 or CU-1.
func ResourceName(t PeriphType, id int) string {
	if t.Removable() {
		return fmt.Sprintf("%s-1-%d", t, id)
	}
	return fmt.Sprintf("%s-%d", t, id)
}

// LedColor is the color of a front-panel LED.
type LedColor int

const (
	LedNone LedColor = iota
	LedRed
	LedGreen
	LedYellow
)

func (c LedColor) String() string {
	switch c {
	case LedNone:
		return "NONE"
	case LedRed:
		return "RED"
	case LedGreen:
		return "GREEN"
	case LedYellow:
		return "YELLOW"
	default:
		return "LED_COLOR(" + strconv.Itoa(int(c)) + ")"
	}
}

// PowerControl switches a line-card slot's power.
type PowerControl int

const (
	PowerOff PowerControl = iota
	PowerOn
)

func (p PowerControl) String() string {
	switch p {
	case PowerOff:
		return "OFF"
	case PowerOn:
		return "ON"
	default:
		return "POWER(" + strconv.Itoa(int(p)) + ")"
	}
}

// InvalidTemperature is returned when a module cannot report a temperature.
const InvalidTemperature = -99999.0

// Inventory is the identity block of a module.
type Inventory struct {
	Type      string `cbor:"type,omitempty"`
	PN        string `cbor:"pn"`
	SN        string `cbor:"sn"`
	MfgDate   string `cbor:"mfg_date"`
	HwVer     string `cbor:"hw_ver"`
	SwVer     string `cbor:"sw_ver,omitempty"`
	ModelName string `cbor:"model_name,omitempty"`
	MacAddr   string `cbor:"mac_addr,omitempty"`
}

// PsuInfo is one power supply telemetry sample.
type PsuInfo struct {
	Capacity      int     `cbor:"capacity"`
	Iin           float64 `cbor:"iin"`
	Vin           float64 `cbor:"vin"`
	Pin           float64 `cbor:"pin"`
	Iout          float64 `cbor:"iout"`
	Vout          float64 `cbor:"vout"`
	Pout          float64 `cbor:"pout"`
	AmbientTemp   float64 `cbor:"ambient_temp"`
	PrimaryTemp   float64 `cbor:"primary_temp"`
	SecondaryTemp float64 `cbor:"secondary_temp"`
	Fan           float64 `cbor:"fan"`
}

// FanSpeed is the RPM of both rotors of a fan module.
type FanSpeed struct {
	Front  int `cbor:"front"`
	Behind int `cbor:"behind"`
}

// Max returns the faster rotor's speed.
func (s FanSpeed) Max() int { return max(s.Front, s.Behind) }

// Min returns the slower rotor's speed.
func (s FanSpeed) Min() int { return min(s.Front, s.Behind) }
