package peripheral

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/store"
)

// LinecardTypeNone in the configured linecard-type disables the type check.
const LinecardTypeNone = "NONE"

// linecardBehavior covers the line cards, which report their own readiness
// by writing slot-status once their software is up.
type linecardBehavior struct {
	defaultBehavior
}

func (linecardBehavior) BootTimeout() time.Duration { return 8 * time.Minute }

func (linecardBehavior) ReportsReadiness() bool { return true }

func (linecardBehavior) Initialize(ctx context.Context, s *State) error {
	status, ok, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if !ok || status != SlotReady {
		status = SlotInit
	}

	extra := store.Fields{
		FieldPowerAdminState: "POWER_ENABLED",
	}

	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return s.writeRow(ctx, status, nil, extra)
	}

	extra[FieldLinecardType] = inv.Type
	if err := s.writeRow(ctx, status, &inv, extra); err != nil {
		return err
	}
	// identified cards are powered by the host
	s.log.Info().Str("linecard_type", inv.Type).Msg("Powering on line card")
	return s.env.Hardware.SetPowerControl(ctx, s.ID, hardware.PowerOn)
}

// Mismatch compares the provisioned card type with the one in the slot,
// read from the card itself or, failing that, from its state row.
func (linecardBehavior) Mismatch(ctx context.Context, s *State) (bool, error) {
	configured, ok, err := s.env.Router.For(s.Name, store.Config).
		GetField(ctx, s.Table(), s.Name, FieldLinecardType)
	if err != nil {
		return false, storeErr(err)
	}
	if !ok || configured == "" || configured == LinecardTypeNone {
		return false, nil
	}

	inv, ok, err := s.env.Hardware.Inventory(ctx, s.Type, s.ID)
	if err != nil {
		return false, err
	}
	if ok {
		return !strings.EqualFold(inv.Type, configured), nil
	}

	actual, ok, err := s.stateClient().GetField(ctx, s.Table(), s.Name, FieldLinecardType)
	if err != nil {
		return false, storeErr(err)
	}
	if !ok || actual == "" {
		return false, nil
	}
	return !strings.EqualFold(actual, configured), nil
}

// UpdateAlarm follows the communication state the card reports.
func (linecardBehavior) UpdateAlarm(ctx context.Context, s *State) error {
	status, ok, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if ok && status == SlotComFail {
		return s.env.Alarms.Create(ctx, s.Name, alarm.SlotCommFail)
	}
	return s.env.Alarms.Clear(ctx, s.Name, alarm.SlotCommFail)
}
