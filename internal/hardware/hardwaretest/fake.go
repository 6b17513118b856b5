// Package hardwaretest provides an in-memory hardware service for tests.
package hardwaretest

import (
	"context"
	"sync"

	"codeberg.org/mutker/otnpmon/internal/hardware"
)

type module struct {
	t  hardware.PeriphType
	id int
}

// Fake is a scriptable hardware.Service. Modules default to absent, zero
// inventory and InvalidTemperature.
type Fake struct {
	mu sync.Mutex

	present      map[module]bool
	inventory    map[module]hardware.Inventory
	temperature  map[module]float64
	fanSpeed     map[int]hardware.FanSpeed
	fanRate      map[int]int
	psuInfo      map[int]hardware.PsuInfo
	vinHigh      map[int]bool
	vinLow       map[int]bool
	ledColor     map[module]hardware.LedColor
	powerControl map[int]hardware.PowerControl
	failures     map[string]error
	calls        map[string]int
}

var _ hardware.Service = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		present:      make(map[module]bool),
		inventory:    make(map[module]hardware.Inventory),
		temperature:  make(map[module]float64),
		fanSpeed:     make(map[int]hardware.FanSpeed),
		fanRate:      make(map[int]int),
		psuInfo:      make(map[int]hardware.PsuInfo),
		vinHigh:      make(map[int]bool),
		vinLow:       make(map[int]bool),
		ledColor:     make(map[module]hardware.LedColor),
		powerControl: make(map[int]hardware.PowerControl),
		failures:     make(map[string]error),
		calls:        make(map[string]int),
	}
}

func (f *Fake) SetPresent(t hardware.PeriphType, id int, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[module{t, id}] = present
}

func (f *Fake) SetInventory(t hardware.PeriphType, id int, inv hardware.Inventory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventory[module{t, id}] = inv
}

func (f *Fake) SetTemperature(t hardware.PeriphType, id int, celsius float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temperature[module{t, id}] = celsius
}

func (f *Fake) SetFanSpeed(id int, speed hardware.FanSpeed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanSpeed[id] = speed
}

func (f *Fake) SetPsuInfo(id int, info hardware.PsuInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.psuInfo[id] = info
}

func (f *Fake) SetVin(id int, high, low bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vinHigh[id] = high
	f.vinLow[id] = low
}

// Fail makes every call of action return err until Fail(action, nil).
func (f *Fake) Fail(action string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, action)
		return
	}
	f.failures[action] = err
}

// Calls returns how many times action was invoked.
func (f *Fake) Calls(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

// Rate returns the last fan speed rate commanded for fan id.
func (f *Fake) Rate(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fanRate[id]
}

// SetRate seeds the rate a fan reports before any command.
func (f *Fake) SetRate(id, rate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanRate[id] = rate
}

// LedColor returns the last color commanded for a module's LED.
func (f *Fake) LedColor(t hardware.PeriphType, id int) hardware.LedColor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledColor[module{t, id}]
}

// PowerControl returns the last power command for a line-card slot.
func (f *Fake) PowerControl(slot int) (hardware.PowerControl, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctl, ok := f.powerControl[slot]
	return ctl, ok
}

// begin records the call and returns the injected failure, if any. The
// caller holds the lock.
func (f *Fake) begin(action string) error {
	f.calls[action]++
	return f.failures[action]
}

func (f *Fake) Presence(_ context.Context, t hardware.PeriphType, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionPresence); err != nil {
		return false, err
	}
	return f.present[module{t, id}], nil
}

func (f *Fake) Inventory(_ context.Context, t hardware.PeriphType, id int) (hardware.Inventory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionInventory); err != nil {
		return hardware.Inventory{}, false, err
	}
	inv, ok := f.inventory[module{t, id}]
	return inv, ok, nil
}

func (f *Fake) Temperature(_ context.Context, t hardware.PeriphType, id int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionTemperature); err != nil {
		return hardware.InvalidTemperature, err
	}
	temp, ok := f.temperature[module{t, id}]
	if !ok {
		return hardware.InvalidTemperature, nil
	}
	return temp, nil
}

func (f *Fake) FanSpeed(_ context.Context, id int) (hardware.FanSpeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionFanSpeed); err != nil {
		return hardware.FanSpeed{}, err
	}
	return f.fanSpeed[id], nil
}

func (f *Fake) FanSpeedRate(_ context.Context, id int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionFanSpeedRate); err != nil {
		return 0, err
	}
	return f.fanRate[id], nil
}

func (f *Fake) SetFanSpeedRate(_ context.Context, id, rate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionSetFanSpeedRate); err != nil {
		return err
	}
	f.fanRate[id] = rate
	return nil
}

func (f *Fake) PsuInfo(_ context.Context, id int) (hardware.PsuInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionPsuInfo); err != nil {
		return hardware.PsuInfo{}, false, err
	}
	info, ok := f.psuInfo[id]
	return info, ok, nil
}

func (f *Fake) PsuVinHigh(_ context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionPsuVinHigh); err != nil {
		return false, err
	}
	return f.vinHigh[id], nil
}

func (f *Fake) PsuVinLow(_ context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionPsuVinLow); err != nil {
		return false, err
	}
	return f.vinLow[id], nil
}

func (f *Fake) SetLedColor(_ context.Context, t hardware.PeriphType, id int, color hardware.LedColor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionSetLedColor); err != nil {
		return err
	}
	f.ledColor[module{t, id}] = color
	return nil
}

func (f *Fake) SetPowerControl(_ context.Context, slot int, ctl hardware.PowerControl) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(hardware.ActionSetPowerControl); err != nil {
		return err
	}
	f.powerControl[slot] = ctl
	return nil
}
