package peripheral

import (
	"context"
	"time"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"github.com/samber/lo"
)

type stateKey struct {
	t  hardware.PeriphType
	id int
}

// Registry holds one State per module slot declared in the device spec.
type Registry struct {
	env    *Env
	states []*State
	byKey  map[stateKey]*State
}

// NewRegistry builds every State up front, in sync order: chassis, CU,
// line cards, PSUs, fans.
func NewRegistry(env Env) (*Registry, error) {
	env.setDefaults()
	r := &Registry{
		env:   &env,
		byKey: make(map[stateKey]*State),
	}

	for _, t := range []hardware.PeriphType{hardware.Chassis, hardware.CU, hardware.Linecard, hardware.PSU, hardware.Fan} {
		behavior := BehaviorFor(t)
		for _, id := range env.Spec.Slots(t) {
			s := newState(r.env, t, id, behavior)
			r.states = append(r.states, s)
			r.byKey[stateKey{t, id}] = s
		}
	}

	if len(r.states) == 0 {
		return nil, errors.New().New(ErrNoPeripheralsDeclared)
	}
	return r, nil
}

// Get returns the State of one slot.
func (r *Registry) Get(t hardware.PeriphType, id int) (*State, bool) {
	s, ok := r.byKey[stateKey{t, id}]
	return s, ok
}

// All lists every State in sync order.
func (r *Registry) All() []*State {
	return r.states
}

// Of lists the States of type t.
func (r *Registry) Of(t hardware.PeriphType) []*State {
	return lo.Filter(r.states, func(s *State, _ int) bool {
		return s.Type == t
	})
}

// Syncer runs Synchronize for every registered State on a fixed period.
type Syncer struct {
	registry *Registry
	interval time.Duration
}

func NewSyncer(r *Registry, interval time.Duration) (*Syncer, error) {
	if interval <= 0 {
		return nil, errors.New().WithData(ErrInvalidSyncInterval, interval)
	}
	return &Syncer{registry: r, interval: interval}, nil
}

// Tick synchronizes every module once, sequentially. Failures are logged
// and counted; they never stop the remaining modules. It returns how many
// modules failed.
func (s *Syncer) Tick(ctx context.Context) int {
	env := s.registry.env
	failed := 0
	for _, state := range s.registry.states {
		start := env.Clock.Now()
		err := state.Synchronize(ctx)
		env.Metrics.SyncCompleted(state.Type.String(), env.Clock.Now().Sub(start), err)
		if err != nil {
			failed++
			state.log.Warn().Err(err).Msg("Failed to synchronize module")
		}
	}
	return failed
}

// Run ticks until ctx is canceled. The in-flight tick completes first.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := s.registry.env.Logger
	log.Info().Dur("interval", s.interval).Int("modules", len(s.registry.states)).Msg("Peripheral sync started")

	// a started tick runs to completion even when ctx is canceled
	tickCtx := context.WithoutCancel(ctx)

	s.Tick(tickCtx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Peripheral sync stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.Tick(tickCtx)
		}
	}
}
