// Package thermal drives the chassis fans from the inlet temperature and
// keeps the fan and system LEDs in line with the alarm state.
package thermal

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/devspec"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Alarm type fragments that force full speed wherever they are raised.
var fullSpeedAlarms = []string{"TEMP_HIALM", alarm.SlotCommFail}

type Config struct {
	Hardware hardware.Service
	Alarms   *alarm.Engine
	Spec     *devspec.Spec
	Interval time.Duration
	// Levels defaults to DefaultLevels.
	Levels  []Level
	Metrics metrics.Collector
	Logger  zerolog.Logger
}

// Controller runs the fan control loop. Fans put in manual mode through
// SetManual keep their rate until SetAuto hands them back.
type Controller struct {
	hw       hardware.Service
	alarms   *alarm.Engine
	spec     *devspec.Spec
	interval time.Duration
	levels   []Level
	metrics  metrics.Collector
	log      zerolog.Logger

	mu        sync.Mutex
	manual    map[int]int
	fanLed    map[int]hardware.LedColor
	systemLed hardware.LedColor
	fullSpeed bool
}

func New(cfg Config) (*Controller, error) {
	errFactory := errors.New()
	if cfg.Interval <= 0 {
		return nil, errFactory.WithData(ErrInvalidInterval, cfg.Interval)
	}
	if cfg.Levels == nil {
		cfg.Levels = DefaultLevels
	}
	if err := validateLevels(cfg.Levels); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}

	return &Controller{
		hw:       cfg.Hardware,
		alarms:   cfg.Alarms,
		spec:     cfg.Spec,
		interval: cfg.Interval,
		levels:   cfg.Levels,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		manual:   make(map[int]int),
		fanLed:   make(map[int]hardware.LedColor),
	}, nil
}

// SetManual pins fan id to rate percent and applies it right away.
func (c *Controller) SetManual(ctx context.Context, id, rate int) error {
	errFactory := errors.New()
	if !lo.Contains(c.spec.Slots(hardware.Fan), id) {
		return errFactory.WithData(ErrUnknownFan, id)
	}
	if rate < 0 || rate > 100 {
		return errFactory.WithData(ErrInvalidRate, rate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual[id] = rate
	if err := c.hw.SetFanSpeedRate(ctx, id, rate); err != nil {
		return errFactory.WrapWithData(ErrFanControl, err, id)
	}
	c.log.Info().Int("fan", id).Int("rate", rate).Msg("Fan switched to manual control")
	return nil
}

// SetAuto returns fan id to the control loop.
func (c *Controller) SetAuto(id int) error {
	if !lo.Contains(c.spec.Slots(hardware.Fan), id) {
		return errors.New().WithData(ErrUnknownFan, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.manual[id]; ok {
		delete(c.manual, id)
		c.log.Info().Int("fan", id).Msg("Fan switched to automatic control")
	}
	return nil
}

// Manual reports the pinned rate of fan id, if any.
func (c *Controller) Manual(id int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate, ok := c.manual[id]
	return rate, ok
}

// ApplyOverrides pins every fan listed in rates and hands every other
// fan back to the control loop. All fans are attempted; the first error
// is returned.
func (c *Controller) ApplyOverrides(ctx context.Context, rates map[int]int) error {
	var firstErr error
	for _, id := range c.spec.Slots(hardware.Fan) {
		var err error
		if rate, ok := rates[id]; ok {
			err = c.SetManual(ctx, id, rate)
		} else {
			err = c.SetAuto(id)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for id := range rates {
		if !lo.Contains(c.spec.Slots(hardware.Fan), id) && firstErr == nil {
			firstErr = errors.New().WithData(ErrUnknownFan, id)
		}
	}
	return firstErr
}

// InletTemperature is the hottest line card, or the CU when no line card
// reports a temperature.
func (c *Controller) InletTemperature(ctx context.Context) float64 {
	inlet := hardware.InvalidTemperature
	for _, id := range c.spec.Slots(hardware.Linecard) {
		temp, err := c.hw.Temperature(ctx, hardware.Linecard, id)
		if err != nil {
			c.log.Debug().Err(err).Int("slot", id).Msg("Line card temperature unavailable")
			continue
		}
		if temp != hardware.InvalidTemperature && (inlet == hardware.InvalidTemperature || temp > inlet) {
			inlet = temp
		}
	}
	if inlet != hardware.InvalidTemperature {
		return inlet
	}

	temp, err := c.hw.Temperature(ctx, hardware.CU, 1)
	if err != nil {
		c.log.Debug().Err(err).Msg("CU temperature unavailable")
		return hardware.InvalidTemperature
	}
	return temp
}

// Tick runs one control iteration. Every fan is handled even when another
// fails; the first failure is returned.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fans := c.presentFans(ctx)
	inlet := c.InletTemperature(ctx)
	full := c.needsFullSpeed(ctx, inlet, len(fans))

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, id := range fans {
		if _, manual := c.manual[id]; manual {
			continue
		}
		record(c.control(ctx, id, inlet, full))
	}

	record(c.updateFanLeds(ctx, fans))
	record(c.updateSystemLed(ctx))
	return firstErr
}

// FullSpeed drives every present automatic fan to the top level. Used on
// shutdown so the chassis is never left under-cooled.
func (c *Controller) FullSpeed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, id := range c.presentFans(ctx) {
		if _, manual := c.manual[id]; manual {
			continue
		}
		if err := c.control(ctx, id, hardware.InvalidTemperature, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run ticks until ctx is canceled. The in-flight tick completes first.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", c.interval).Msg("Thermal control started")
	tickCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Thermal control stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := c.Tick(tickCtx); err != nil {
				c.log.Warn().Err(err).Msg("Thermal control iteration failed")
			}
		}
	}
}

func (c *Controller) presentFans(ctx context.Context) []int {
	return lo.Filter(c.spec.Slots(hardware.Fan), func(id, _ int) bool {
		present, err := c.hw.Presence(ctx, hardware.Fan, id)
		if err != nil {
			c.log.Warn().Err(err).Int("fan", id).Msg("Fan presence unknown, treating as absent")
			return false
		}
		return present
	})
}

func (c *Controller) needsFullSpeed(ctx context.Context, inlet float64, present int) bool {
	reason := ""
	switch {
	case inlet == hardware.InvalidTemperature:
		reason = "inlet temperature unavailable"
	case present < c.spec.Number(hardware.Fan):
		reason = "fans missing"
	default:
		for _, typeID := range fullSpeedAlarms {
			exists, err := c.alarms.ExistsByType(ctx, typeID)
			if err != nil {
				reason = "alarm state unavailable"
				break
			}
			if exists {
				reason = typeID + " raised"
				break
			}
		}
	}

	full := reason != ""
	if full != c.fullSpeed {
		if full {
			c.log.Warn().Str("reason", reason).Int("fans", present).Msg("Forcing fans to full speed")
		} else {
			c.log.Info().Float64("inlet", inlet).Msg("Resuming temperature based fan control")
		}
		c.fullSpeed = full
	}
	return full
}

func (c *Controller) control(ctx context.Context, id int, inlet float64, full bool) error {
	errFactory := errors.New()

	rate, err := c.hw.FanSpeedRate(ctx, id)
	if err != nil {
		return errFactory.WrapWithData(ErrFanControl, err, id)
	}

	current := levelOf(c.levels, rate)
	target := len(c.levels) - 1
	if !full {
		target = nextLevel(c.levels, current, inlet)
	}
	targetRate := c.levels[target].Rate
	if targetRate == rate {
		return nil
	}

	if err := c.hw.SetFanSpeedRate(ctx, id, targetRate); err != nil {
		return errFactory.WrapWithData(ErrFanControl, err, id)
	}

	fan := hardware.ResourceName(hardware.Fan, id)
	direction := "up"
	if targetRate < rate {
		direction = "down"
	}
	c.metrics.FanLevel(fan, target)
	c.metrics.FanLevelChanged(direction)
	c.log.Info().
		Str("fan", fan).
		Str("from", c.levels[current].Name).
		Str("to", c.levels[target].Name).
		Float64("inlet", inlet).
		Msgf("Fan speed rate changed from %d%% to %d%%", rate, targetRate)
	return nil
}

func (c *Controller) updateFanLeds(ctx context.Context, fans []int) error {
	// absent fans are forgotten so a reinserted fan gets its LED rewritten
	for id := range c.fanLed {
		if !lo.Contains(fans, id) {
			delete(c.fanLed, id)
		}
	}

	var firstErr error
	for _, id := range fans {
		color, err := c.fanColor(ctx, id)
		if err == nil {
			err = c.setFanLed(ctx, id, color)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.fanLed[id] = color
	}
	return firstErr
}

func (c *Controller) fanColor(ctx context.Context, id int) (hardware.LedColor, error) {
	resource := hardware.ResourceName(hardware.Fan, id)
	failed, err := c.alarms.Exists(ctx, resource, alarm.FanFail)
	if err != nil {
		return hardware.LedNone, err
	}
	if failed {
		return hardware.LedRed, nil
	}

	current, err := c.alarms.Current(ctx, resource)
	if err != nil {
		return hardware.LedNone, err
	}
	if len(current) > 0 {
		return hardware.LedYellow, nil
	}
	return hardware.LedGreen, nil
}

func (c *Controller) updateSystemLed(ctx context.Context) error {
	color, err := c.systemColor(ctx)
	if err != nil {
		return err
	}
	if color == c.systemLed {
		return nil
	}
	if err := c.hw.SetLedColor(ctx, hardware.CU, 1, color); err != nil {
		return errors.New().Wrap(ErrLedControl, err)
	}
	c.log.Debug().Stringer("color", color).Msg("System LED changed")
	c.systemLed = color
	return nil
}

func (c *Controller) systemColor(ctx context.Context) (hardware.LedColor, error) {
	critical, err := c.alarms.ExistsBySeverity(ctx, alarm.Critical)
	if err != nil {
		return hardware.LedNone, err
	}
	if critical {
		return hardware.LedRed, nil
	}
	for _, severity := range []alarm.Severity{alarm.Major, alarm.Minor} {
		exists, err := c.alarms.ExistsBySeverity(ctx, severity)
		if err != nil {
			return hardware.LedNone, err
		}
		if exists {
			return hardware.LedYellow, nil
		}
	}
	return hardware.LedGreen, nil
}

// setFanLed writes color unless it is already the last commanded one.
func (c *Controller) setFanLed(ctx context.Context, id int, color hardware.LedColor) error {
	if last, ok := c.fanLed[id]; ok && last == color {
		return nil
	}
	if err := c.hw.SetLedColor(ctx, hardware.Fan, id, color); err != nil {
		return errors.New().Wrap(ErrLedControl, err)
	}
	return nil
}
