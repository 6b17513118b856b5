package peripheral

import (
	"context"
	"strconv"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/store"
)

// CU usage thresholds in percent. An alarm is raised above the first and
// cleared below the second.
const (
	MemUsageRaise = 80
	MemUsageClear = 60
	CPUUsageRaise = 90
	CPUUsageClear = 70
)

// CoreTable is the counters table of the per-core CPU windows.
const CoreTable = "CPU"

type cuBehavior struct {
	defaultBehavior
}

func (cuBehavior) Initialize(ctx context.Context, s *State) error {
	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New().WithData(ErrInventoryUnavailable, s.Name)
	}
	return s.writeRow(ctx, SlotInit, &inv, store.Fields{
		FieldSoftwareVersion: inv.SwVer,
	})
}

func (cuBehavior) UpdateAlarm(ctx context.Context, s *State) error {
	memory, err := s.env.Host.Memory()
	if err != nil {
		return err
	}
	if err := hysteresisAlarm(ctx, s, alarm.MemUsageHigh, memory.Percent, MemUsageRaise, MemUsageClear); err != nil {
		return err
	}
	return hysteresisAlarm(ctx, s, alarm.CPUUsageHigh, s.env.Host.CPUPercent(), CPUUsageRaise, CPUUsageClear)
}

// hysteresisAlarm raises typeID above raise and clears it below clear.
// Values in between leave it as it is.
func hysteresisAlarm(ctx context.Context, s *State, typeID string, value, raise, clear float64) error {
	switch {
	case value > raise:
		return s.env.Alarms.Create(ctx, s.Name, typeID)
	case value < clear:
		return s.env.Alarms.Clear(ctx, s.Name, typeID)
	default:
		return nil
	}
}

func (cuBehavior) UpdatePM(ctx context.Context, s *State) error {
	if err := s.updateTemperaturePM(ctx); err != nil {
		return err
	}

	host := s.env.Host
	memory, err := host.Memory()
	if err != nil {
		return err
	}
	if err := s.updatePM(ctx, "MemoryUtilized", float64(memory.Used)); err != nil {
		return err
	}
	if err := s.updatePM(ctx, "MemoryAvailable", float64(memory.Available)); err != nil {
		return err
	}
	if err := s.updatePM(ctx, "CpuUtilization", float64(int(host.CPUPercent()))); err != nil {
		return err
	}

	return updateCorePM(ctx, s)
}

// updateCorePM records the per-core breakdown as whole percents under
// CPU-<index>.
func updateCorePM(ctx context.Context, s *State) error {
	for i, core := range s.env.Host.Cores() {
		resource := "CPU-" + strconv.Itoa(i)
		samples := []struct {
			metric string
			value  float64
		}{
			{"Total", core.Total},
			{"User", core.User},
			{"Kernel", core.Kernel},
			{"Nice", core.Nice},
			{"Idle", core.Idle},
			{"Wait", core.Wait},
		}
		for _, sample := range samples {
			value := float64(int(sample.value))
			if err := s.env.PM.UpdateBoth(ctx, CoreTable, resource, sample.metric, value); err != nil {
				return err
			}
		}
	}
	return nil
}
