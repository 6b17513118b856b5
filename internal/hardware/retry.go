package hardware

import (
	"context"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	DefaultRetryAttempts = 35
	DefaultRetryDelay    = time.Second
)

// RetryConfig bounds how hard a call is retried before the failure is
// handed back to the tick that issued it.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Clock    clock.Clock
	Metrics  metrics.Collector
	Logger   zerolog.Logger
}

type retrying struct {
	next Service
	cfg  RetryConfig
}

// WithRetry wraps svc so that transport failures are retried up to
// cfg.Attempts times, cfg.Delay apart. Service errors and context
// cancellation end the sequence immediately.
func WithRetry(svc Service, cfg RetryConfig) Service {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	return &retrying{next: svc, cfg: cfg}
}

func do[T any](ctx context.Context, r *retrying, action string, call func() (T, error)) (T, error) {
	var result T

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Delay), uint64(r.cfg.Attempts-1)),
		ctx,
	)
	attempt := 0
	operation := func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		attempt++

		var err error
		result, err = call()
		if IsServiceError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		r.cfg.Metrics.HardwareRetry(action)
		r.cfg.Logger.Debug().
			Err(err).
			Str("action", action).
			Int("attempt", attempt).
			Msg("Hardware call failed")
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{
		clock: r.cfg.Clock,
		c:     make(chan time.Time, 1),
	})
	switch {
	case err == nil, IsServiceError(err):
		return result, err
	case ctx.Err() != nil:
		return result, errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}

	r.cfg.Metrics.HardwareFailure(action)
	return result, errors.New().Wrap(ErrRetriesExhausted, err).WithMessage(
		"hardware call " + action + " failed after retries")
}

// clockTimer waits on the configured clock. Start blocks for the full
// delay, so a fake clock advances instead of waiting.
type clockTimer struct {
	clock clock.Clock
	c     chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.clock.Sleep(d)
	select {
	case t.c <- t.clock.Now():
	default:
	}
}

func (*clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time { return t.c }

func done(ctx context.Context, r *retrying, action string, call func() error) error {
	_, err := do(ctx, r, action, func() (struct{}, error) {
		return struct{}{}, call()
	})
	return err
}

func (r *retrying) Presence(ctx context.Context, t PeriphType, id int) (bool, error) {
	return do(ctx, r, ActionPresence, func() (bool, error) {
		return r.next.Presence(ctx, t, id)
	})
}

type inventoryResult struct {
	inv Inventory
	ok  bool
}

func (r *retrying) Inventory(ctx context.Context, t PeriphType, id int) (Inventory, bool, error) {
	res, err := do(ctx, r, ActionInventory, func() (inventoryResult, error) {
		inv, ok, err := r.next.Inventory(ctx, t, id)
		return inventoryResult{inv: inv, ok: ok}, err
	})
	return res.inv, res.ok, err
}

func (r *retrying) Temperature(ctx context.Context, t PeriphType, id int) (float64, error) {
	temp, err := do(ctx, r, ActionTemperature, func() (float64, error) {
		return r.next.Temperature(ctx, t, id)
	})
	if err != nil {
		return InvalidTemperature, err
	}
	return temp, nil
}

func (r *retrying) FanSpeed(ctx context.Context, id int) (FanSpeed, error) {
	return do(ctx, r, ActionFanSpeed, func() (FanSpeed, error) {
		return r.next.FanSpeed(ctx, id)
	})
}

func (r *retrying) FanSpeedRate(ctx context.Context, id int) (int, error) {
	return do(ctx, r, ActionFanSpeedRate, func() (int, error) {
		return r.next.FanSpeedRate(ctx, id)
	})
}

func (r *retrying) SetFanSpeedRate(ctx context.Context, id, rate int) error {
	return done(ctx, r, ActionSetFanSpeedRate, func() error {
		return r.next.SetFanSpeedRate(ctx, id, rate)
	})
}

type psuResult struct {
	info PsuInfo
	ok   bool
}

func (r *retrying) PsuInfo(ctx context.Context, id int) (PsuInfo, bool, error) {
	res, err := do(ctx, r, ActionPsuInfo, func() (psuResult, error) {
		info, ok, err := r.next.PsuInfo(ctx, id)
		return psuResult{info: info, ok: ok}, err
	})
	return res.info, res.ok, err
}

func (r *retrying) PsuVinHigh(ctx context.Context, id int) (bool, error) {
	return do(ctx, r, ActionPsuVinHigh, func() (bool, error) {
		return r.next.PsuVinHigh(ctx, id)
	})
}

func (r *retrying) PsuVinLow(ctx context.Context, id int) (bool, error) {
	return do(ctx, r, ActionPsuVinLow, func() (bool, error) {
		return r.next.PsuVinLow(ctx, id)
	})
}

func (r *retrying) SetLedColor(ctx context.Context, t PeriphType, id int, color LedColor) error {
	return done(ctx, r, ActionSetLedColor, func() error {
		return r.next.SetLedColor(ctx, t, id, color)
	})
}

func (r *retrying) SetPowerControl(ctx context.Context, slot int, ctl PowerControl) error {
	return done(ctx, r, ActionSetPowerControl, func() error {
		return r.next.SetPowerControl(ctx, slot, ctl)
	})
}
