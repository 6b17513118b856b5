// Package hardware talks to the platform hardware service, the process that
// owns the drivers for every peripheral module.
package hardware

import "context"

// Service is the hardware service as seen by the monitoring loops. Calls
// the service answers with a non-OK result surface as *ServiceError, except
// where a method documents a sentinel instead.
type Service interface {
	Presence(ctx context.Context, t PeriphType, id int) (bool, error)
	// Inventory reports ok=false when the module's identity cannot be read.
	Inventory(ctx context.Context, t PeriphType, id int) (Inventory, bool, error)
	// Temperature returns degrees Celsius, or InvalidTemperature when the
	// module cannot report one.
	Temperature(ctx context.Context, t PeriphType, id int) (float64, error)
	FanSpeed(ctx context.Context, id int) (FanSpeed, error)
	FanSpeedRate(ctx context.Context, id int) (int, error)
	SetFanSpeedRate(ctx context.Context, id, rate int) error
	// PsuInfo reports ok=false when the supply does not answer.
	PsuInfo(ctx context.Context, id int) (PsuInfo, bool, error)
	PsuVinHigh(ctx context.Context, id int) (bool, error)
	PsuVinLow(ctx context.Context, id int) (bool, error)
	SetLedColor(ctx context.Context, t PeriphType, id int, color LedColor) error
	SetPowerControl(ctx context.Context, slot int, ctl PowerControl) error
}

// Action names understood by the hardware service.
const (
	ActionPresence        = "periph_presence"
	ActionInventory       = "get_inventory"
	ActionTemperature     = "get_periph_temperature"
	ActionFanSpeed        = "get_fan_speed"
	ActionFanSpeedRate    = "get_fan_speed_rate"
	ActionSetFanSpeedRate = "set_fan_speed_rate"
	ActionPsuInfo         = "get_psu_info"
	ActionPsuVinHigh      = "psu_vin_high"
	ActionPsuVinLow       = "psu_vin_low"
	ActionSetLedColor     = "set_led_color"
	ActionSetPowerControl = "set_power_control"
)
