package peripheral

import (
	"context"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
)

// Fan speed limits in RPM.
const (
	FanSpeedMax = 31000
	FanSpeedMin = 6000
)

type fanBehavior struct {
	defaultBehavior
}

func (fanBehavior) BootTimeout() time.Duration { return 10 * time.Second }

func (fanBehavior) Initialize(ctx context.Context, s *State) error {
	if err := s.env.Alarms.ClearAll(ctx, s.Name); err != nil {
		return err
	}

	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return s.writeRow(ctx, SlotInit, nil, nil)
	}
	return s.writeRow(ctx, SlotInit, &inv, nil)
}

func (fanBehavior) Unknown(ctx context.Context, s *State) (bool, error) {
	return unexpectedPN(ctx, s)
}

func (fanBehavior) UpdateAlarm(ctx context.Context, s *State) error {
	speed, err := s.env.Hardware.FanSpeed(ctx, s.ID)
	if err != nil {
		return err
	}

	alarms := s.env.Alarms
	fastest, slowest := speed.Max(), speed.Min()
	switch {
	case fastest > FanSpeedMax:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.FanHigh, "FAN")
	case fastest == 0 || slowest == 0:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.FanFail, "FAN")
	case slowest < FanSpeedMin:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.FanLow, "FAN")
	default:
		return alarms.ClearBy(ctx, s.Name, "FAN")
	}
}

func (fanBehavior) UpdatePM(ctx context.Context, s *State) error {
	if err := s.updateTemperaturePM(ctx); err != nil {
		return err
	}

	speed, err := s.env.Hardware.FanSpeed(ctx, s.ID)
	if err != nil {
		return err
	}
	if err := s.updatePM(ctx, "Speed", float64(speed.Front)); err != nil {
		return err
	}
	return s.updatePM(ctx, "Speed_2", float64(speed.Behind))
}
