// Package peripheral tracks the lifecycle of every hardware module slot:
// presence, identity, mismatch detection, boot supervision, alarms and PM.
package peripheral

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/devspec"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"codeberg.org/mutker/otnpmon/internal/pm"
	"codeberg.org/mutker/otnpmon/internal/store"
	"codeberg.org/mutker/otnpmon/internal/sysstat"
	"github.com/rs/zerolog"
)

// State row field names.
const (
	FieldPartNo          = "part-no"
	FieldSerialNo        = "serial-no"
	FieldMfgDate         = "mfg-date"
	FieldHardwareVersion = "hardware-version"
	FieldSoftwareVersion = "software-version"
	FieldParent          = "parent"
	FieldEmpty           = "empty"
	FieldRemovable       = "removable"
	FieldMfgName         = "mfg-name"
	FieldOperStatus      = "oper-status"
	FieldSlotStatus      = "slot-status"
	FieldCapacity        = "capacity"
	FieldPowerAdminState = "power-admin-state"
	FieldLinecardType    = "linecard-type"
)

const (
	parentResource = "CHASSIS-1"
	mfgName        = "alibaba"

	watchdogTimeout = 10 * time.Second
)

// Env is what every State shares.
type Env struct {
	Hardware hardware.Service
	Alarms   *alarm.Engine
	PM       *pm.Aggregator
	Router   *store.Router
	Spec     *devspec.Spec
	Host     sysstat.Reader
	// DiskPath is the filesystem whose usage raises DISK_FULL.
	DiskPath string
	Clock    clock.Clock
	Metrics  metrics.Collector
	Logger   zerolog.Logger
}

func (e *Env) setDefaults() {
	if e.Clock == nil {
		e.Clock = clock.Real()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.Noop()
	}
	if e.DiskPath == "" {
		e.DiskPath = "/"
	}
}

// State is the per-slot state machine. Synchronize calls are serialized.
type State struct {
	Type hardware.PeriphType
	ID   int
	Name string

	env      *Env
	behavior Behavior
	log      zerolog.Logger

	mu              sync.Mutex
	initialized     bool
	bootFailCleared bool

	generation atomic.Uint64
	timerMu    sync.Mutex
	timer      clock.Timer
}

func newState(env *Env, t hardware.PeriphType, id int, b Behavior) *State {
	name := hardware.ResourceName(t, id)
	return &State{
		Type:     t,
		ID:       id,
		Name:     name,
		env:      env,
		behavior: b,
		log:      env.Logger.With().Str("resource", name).Logger(),
	}
}

// Table is the store table of the module's rows.
func (s *State) Table() string {
	return s.Type.String()
}

// Initialized reports whether the module's state row has been populated.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *State) stateClient() store.Client {
	return s.env.Router.For(s.Name, store.State)
}

func storeErr(err error) error {
	return errors.New().Wrap(ErrStoreAccess, err)
}

// Synchronize runs one tick: presence, mismatch, initialization or the
// steady-state checks. An error leaves the module to be retried next tick.
func (s *State) Synchronize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	present, err := s.env.Hardware.Presence(ctx, s.Type, s.ID)
	if err != nil {
		return s.syncErr(err)
	}
	if !present {
		return s.syncErr(s.syncAbsent(ctx))
	}
	return s.syncErr(s.syncPresent(ctx))
}

func (s *State) syncErr(err error) error {
	if err == nil || errors.HasCode(err, ErrSyncFailed) {
		return err
	}
	return errors.New().WrapWithData(ErrSyncFailed, err, s.Name)
}

func (s *State) syncAbsent(ctx context.Context) error {
	wasTracked := s.initialized
	s.initialized = false
	s.disarm()

	client := s.stateClient()
	if err := client.DeleteEntry(ctx, s.Table(), s.Name); err != nil {
		return storeErr(err)
	}
	if err := client.Set(ctx, s.Table(), s.Name, store.Fields{
		FieldEmpty:      "true",
		FieldSlotStatus: SlotEmpty.String(),
		FieldOperStatus: SlotEmpty.OperStatus().String(),
	}); err != nil {
		return storeErr(err)
	}
	s.env.Metrics.SlotStatus(s.Name, SlotEmpty.String())

	if err := s.env.Alarms.CreateAndClearOthers(ctx, s.Name, alarm.CardMissing, ""); err != nil {
		return err
	}
	if wasTracked {
		s.log.Info().Msg("Module removed")
	}
	return s.env.PM.Reset(ctx, s.Name)
}

func (s *State) syncPresent(ctx context.Context) error {
	alarms := s.env.Alarms
	if err := alarms.Clear(ctx, s.Name, alarm.CardMissing); err != nil {
		return err
	}

	mismatch, err := s.behavior.Mismatch(ctx, s)
	if err != nil {
		return err
	}
	if mismatch {
		return s.markMismatch(ctx)
	}
	if err := alarms.Clear(ctx, s.Name, s.behavior.MismatchAlarm()); err != nil {
		return err
	}

	if !s.initialized {
		if err := s.behavior.Initialize(ctx, s); err != nil {
			return err
		}
		s.initialized = true
		s.bootFailCleared = false
		if timeout := s.behavior.BootTimeout(); timeout > 0 {
			s.arm(timeout)
		}
		s.log.Info().Msg("Module initialized")
		return nil
	}

	unknown, err := s.behavior.Unknown(ctx, s)
	if err != nil {
		return err
	}
	if unknown {
		if err := s.setStatus(ctx, SlotUnknown); err != nil {
			return err
		}
		return alarms.CreateAndClearOthers(ctx, s.Name, alarm.CardUnknown, "")
	}
	if err := alarms.Clear(ctx, s.Name, alarm.CardUnknown); err != nil {
		return err
	}

	if !s.behavior.ReportsReadiness() {
		if err := s.setStatus(ctx, SlotReady); err != nil {
			return err
		}
	}

	status, _, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if status == SlotReady && !s.bootFailCleared {
		if err := alarms.Clear(ctx, s.Name, alarm.CardBootFail); err != nil {
			return err
		}
		s.bootFailCleared = true
	}

	if err := s.behavior.UpdateAlarm(ctx, s); err != nil {
		return err
	}
	return s.behavior.UpdatePM(ctx, s)
}

func (s *State) markMismatch(ctx context.Context) error {
	if err := s.env.Alarms.CreateAndClearOthers(ctx, s.Name, s.behavior.MismatchAlarm(), ""); err != nil {
		return err
	}

	client := s.stateClient()
	if err := client.DeleteEntry(ctx, s.Table(), s.Name); err != nil {
		return storeErr(err)
	}
	if err := client.Set(ctx, s.Table(), s.Name, store.Fields{
		FieldEmpty:      "false",
		FieldSlotStatus: SlotMismatch.String(),
		FieldOperStatus: SlotMismatch.OperStatus().String(),
	}); err != nil {
		return storeErr(err)
	}
	s.env.Metrics.SlotStatus(s.Name, SlotMismatch.String())

	if s.initialized {
		s.log.Warn().Msg("Module type mismatch")
	}
	s.initialized = false
	s.disarm()
	return nil
}

// Status reads the persisted slot status. ok is false when the row or the
// field is missing or unparsable.
func (s *State) Status(ctx context.Context) (SlotStatus, bool, error) {
	value, ok, err := s.stateClient().GetField(ctx, s.Table(), s.Name, FieldSlotStatus)
	if err != nil {
		return 0, false, storeErr(err)
	}
	if !ok {
		return 0, false, nil
	}
	status, err := ParseSlotStatus(value)
	if err != nil {
		s.log.Warn().Str("slot_status", value).Msg("Ignoring unparsable slot status")
		return 0, false, nil
	}
	return status, true, nil
}

// setStatus writes the slot status together with the derived oper status.
func (s *State) setStatus(ctx context.Context, status SlotStatus) error {
	if err := s.stateClient().Set(ctx, s.Table(), s.Name, store.Fields{
		FieldSlotStatus: status.String(),
		FieldOperStatus: status.OperStatus().String(),
	}); err != nil {
		return storeErr(err)
	}
	s.env.Metrics.SlotStatus(s.Name, status.String())
	return nil
}

// writeRow stores the initial state row: the common fields, the identity
// when inv is not nil, and extra.
func (s *State) writeRow(ctx context.Context, status SlotStatus, inv *hardware.Inventory, extra store.Fields) error {
	fields := store.Fields{
		FieldParent:     parentResource,
		FieldEmpty:      "false",
		FieldRemovable:  boolString(s.Type.Removable()),
		FieldMfgName:    mfgName,
		FieldSlotStatus: status.String(),
		FieldOperStatus: status.OperStatus().String(),
	}
	if inv != nil {
		fields[FieldPartNo] = inv.PN
		fields[FieldSerialNo] = inv.SN
		fields[FieldMfgDate] = inv.MfgDate
		fields[FieldHardwareVersion] = inv.HwVer
	}
	for k, v := range extra {
		fields[k] = v
	}

	if err := s.stateClient().Set(ctx, s.Table(), s.Name, fields); err != nil {
		return storeErr(err)
	}
	s.env.Metrics.SlotStatus(s.Name, status.String())
	return nil
}

// updatePM feeds one sample into both windows of metric.
func (s *State) updatePM(ctx context.Context, metric string, value float64) error {
	return s.env.PM.UpdateBoth(ctx, s.Table(), s.Name, metric, value)
}

// updateTemperaturePM samples the module temperature. Modules that cannot
// report one are skipped.
func (s *State) updateTemperaturePM(ctx context.Context) error {
	temp, err := s.env.Hardware.Temperature(ctx, s.Type, s.ID)
	if err != nil {
		return err
	}
	if temp == hardware.InvalidTemperature {
		return nil
	}
	return s.updatePM(ctx, "Temperature", temp)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// arm starts a new boot watchdog generation. The caller holds s.mu.
func (s *State) arm(timeout time.Duration) {
	generation := s.generation.Add(1)

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.env.Clock.AfterFunc(timeout, func() {
		s.bootTimeout(generation)
	})
	s.log.Debug().Dur("timeout", timeout).Uint64("generation", generation).Msg("Boot watchdog armed")
}

// disarm invalidates any pending watchdog.
func (s *State) disarm() {
	s.generation.Add(1)

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *State) bootTimeout(generation uint64) {
	if s.generation.Load() != generation {
		s.log.Debug().Uint64("generation", generation).Msg("Ignoring stale boot watchdog")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// re-check under the tick lock; a removal may have raced the timer
	if s.generation.Load() != generation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), watchdogTimeout)
	defer cancel()

	status, ok, err := s.Status(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Boot watchdog failed to read slot status")
		return
	}
	if !ok || status != SlotInit {
		return
	}

	s.log.Error().Msg("Module failed to boot")
	if err := s.setStatus(ctx, SlotBootFail); err != nil {
		s.log.Error().Err(err).Msg("Failed to set boot failure status")
		return
	}
	if err := s.env.Alarms.CreateAndClearOthers(ctx, s.Name, alarm.CardBootFail, ""); err != nil {
		s.log.Error().Err(err).Msg("Failed to raise boot failure alarm")
	}
}
