package peripheral

import (
	"context"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/hardware"
)

// Behavior is the type-specific part of a State.
type Behavior interface {
	// BootTimeout is how long a module may stay in INIT; 0 disables the
	// watchdog.
	BootTimeout() time.Duration
	// ReportsReadiness is true for modules that report READY themselves.
	ReportsReadiness() bool
	// MismatchAlarm is the alarm raised when Mismatch is true.
	MismatchAlarm() string

	Initialize(ctx context.Context, s *State) error
	Mismatch(ctx context.Context, s *State) (bool, error)
	Unknown(ctx context.Context, s *State) (bool, error)
	UpdateAlarm(ctx context.Context, s *State) error
	UpdatePM(ctx context.Context, s *State) error
}

// defaultBehavior is embedded by every concrete behaviour.
type defaultBehavior struct{}

func (defaultBehavior) BootTimeout() time.Duration { return 0 }

func (defaultBehavior) ReportsReadiness() bool { return false }

func (defaultBehavior) MismatchAlarm() string { return alarm.CardMismatch }

func (defaultBehavior) Initialize(ctx context.Context, s *State) error {
	return s.writeRow(ctx, SlotInit, nil, nil)
}

func (defaultBehavior) Mismatch(context.Context, *State) (bool, error) { return false, nil }

func (defaultBehavior) Unknown(context.Context, *State) (bool, error) { return false, nil }

func (defaultBehavior) UpdateAlarm(context.Context, *State) error { return nil }

func (defaultBehavior) UpdatePM(ctx context.Context, s *State) error {
	return s.updateTemperaturePM(ctx)
}

// unexpectedPN reports a readable part number outside the device spec.
func unexpectedPN(ctx context.Context, s *State) (bool, error) {
	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil || !ok || inv.PN == "" {
		return false, err
	}
	return !s.env.Spec.IsExpectedPN(s.Type, inv.PN), nil
}

// BehaviorFor returns the behaviour of type t.
func BehaviorFor(t hardware.PeriphType) Behavior {
	switch t {
	case hardware.Fan:
		return fanBehavior{}
	case hardware.PSU:
		return psuBehavior{}
	case hardware.Linecard:
		return linecardBehavior{}
	case hardware.CU:
		return cuBehavior{}
	case hardware.Chassis:
		return chassisBehavior{}
	default:
		return defaultBehavior{}
	}
}
