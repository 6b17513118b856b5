package peripheral

import (
	"context"
	"strconv"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/store"
)

type psuBehavior struct {
	defaultBehavior
}

func (psuBehavior) BootTimeout() time.Duration { return 10 * time.Second }

func (psuBehavior) MismatchAlarm() string { return alarm.PsuMismatch }

func (psuBehavior) Initialize(ctx context.Context, s *State) error {
	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New().WithData(ErrInventoryUnavailable, s.Name)
	}

	info, ok, err := s.env.Hardware.PsuInfo(ctx, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New().WithData(ErrInventoryUnavailable, s.Name)
	}

	return s.writeRow(ctx, SlotInit, &inv, store.Fields{
		FieldCapacity: strconv.Itoa(info.Capacity),
	})
}

// Mismatch compares the supply's capacity with what the chassis is built
// for.
func (psuBehavior) Mismatch(ctx context.Context, s *State) (bool, error) {
	info, ok, err := s.env.Hardware.PsuInfo(ctx, s.ID)
	if err != nil || !ok {
		return false, err
	}
	return info.Capacity != s.env.Spec.ChassisPowerCapacity(), nil
}

func (psuBehavior) Unknown(ctx context.Context, s *State) (bool, error) {
	return unexpectedPN(ctx, s)
}

func (psuBehavior) UpdateAlarm(ctx context.Context, s *State) error {
	hw, alarms := s.env.Hardware, s.env.Alarms

	high, err := hw.PsuVinHigh(ctx, s.ID)
	if err != nil {
		return err
	}
	if high {
		err = alarms.Create(ctx, s.Name, alarm.VoltageInputHigh)
	} else {
		err = alarms.Clear(ctx, s.Name, alarm.VoltageInputHigh)
	}
	if err != nil {
		return err
	}

	low, err := hw.PsuVinLow(ctx, s.ID)
	if err != nil {
		return err
	}
	if low {
		return alarms.Create(ctx, s.Name, alarm.VoltageInputLow)
	}
	return alarms.Clear(ctx, s.Name, alarm.VoltageInputLow)
}

func (psuBehavior) UpdatePM(ctx context.Context, s *State) error {
	if err := s.updateTemperaturePM(ctx); err != nil {
		return err
	}

	info, ok, err := s.env.Hardware.PsuInfo(ctx, s.ID)
	if err != nil || !ok {
		return err
	}

	samples := []struct {
		metric string
		value  float64
	}{
		{"InputCurrent", info.Iin},
		{"InputVoltage", info.Vin},
		{"InputPower", info.Pin},
		{"OutputCurrent", info.Iout},
		{"OutputPower", info.Pout},
		{"OutputVoltage", info.Vout},
		{"AmbientTemperature", info.AmbientTemp},
		{"PrimaryTemperature", info.PrimaryTemp},
		{"SecondaryTemperature", info.SecondaryTemp},
		{"FanSpeed", info.Fan},
	}
	for _, sample := range samples {
		if err := s.updatePM(ctx, sample.metric, sample.value); err != nil {
			return err
		}
	}
	return nil
}
