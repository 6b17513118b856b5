package peripheral

import (
	"context"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/store"
)

// Chassis thresholds.
const (
	ChassisTempHighAlarm = 55.0
	ChassisTempHighWarn  = 50.0
	ChassisTempLowWarn   = 15.0
	ChassisTempLowAlarm  = 10.0
	DiskUsageThreshold   = 90.0
)

const chassisTempPattern = "CHASSIS_TEMP"

type chassisBehavior struct {
	defaultBehavior
}

func (chassisBehavior) Initialize(ctx context.Context, s *State) error {
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
	return s.writeRow(ctx, SlotInit, &inv, store.Fields{
		FieldSoftwareVersion: inv.SwVer,
	})
}

func (chassisBehavior) UpdateAlarm(ctx context.Context, s *State) error {
	alarms := s.env.Alarms

	usage, err := s.env.Host.DiskPercent(s.env.DiskPath)
	if err != nil {
		return err
	}
	if usage >= DiskUsageThreshold {
		err = alarms.Create(ctx, s.Name, alarm.DiskFull)
	} else {
		err = alarms.Clear(ctx, s.Name, alarm.DiskFull)
	}
	if err != nil {
		return err
	}

	temp, err := s.env.Hardware.Temperature(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if temp == hardware.InvalidTemperature {
		s.log.Debug().Msg("Chassis temperature unavailable, keeping temperature alarms")
		return nil
	}

	switch {
	case temp > ChassisTempHighAlarm:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.ChassisTempHiAlm, chassisTempPattern)
	case temp >= ChassisTempHighWarn:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.ChassisTempHiWar, chassisTempPattern)
	case temp >= ChassisTempLowAlarm && temp <= ChassisTempLowWarn:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.ChassisTempLoWar, chassisTempPattern)
	case temp < ChassisTempLowAlarm:
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.ChassisTempLoAlm, chassisTempPattern)
	default:
		return alarms.ClearBy(ctx, s.Name, chassisTempPattern)
	}
}
