package thermal_test

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/devspec"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/hardware/hardwaretest"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"codeberg.org/mutker/otnpmon/internal/store"
	"codeberg.org/mutker/otnpmon/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// line cards 1-4, PSUs 5-6, fans 7-8
const deviceSpec = `{
  "number": {"CHASSIS": 1, "CU": 1, "LINECARD": 4, "PSU": 2, "FAN": 2},
  "expected-pn": {"CHASSIS": "OTN1-CHASSIS", "FAN": "FAN-A1"}
}`

type recordingMetrics struct {
	metrics.Collector
	changes []string
}

func (m *recordingMetrics) FanLevelChanged(direction string) {
	m.changes = append(m.changes, direction)
}

type fixture struct {
	hw         *hardwaretest.Fake
	alarms     *alarm.Engine
	metrics    *recordingMetrics
	controller *thermal.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	spec, err := devspec.Parse(strings.NewReader(deviceSpec))
	require.NoError(t, err)

	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	router := store.NewRouter(store.NewMemory(clk), spec.Number(hardware.Linecard))
	alarms := alarm.New(alarm.Config{Router: router, Clock: clk})

	hw := hardwaretest.New()
	for _, id := range []int{7, 8} {
		hw.SetPresent(hardware.Fan, id, true)
		hw.SetRate(id, 40)
	}

	recorder := &recordingMetrics{Collector: metrics.Noop()}
	controller, err := thermal.New(thermal.Config{
		Hardware: hw,
		Alarms:   alarms,
		Spec:     spec,
		Interval: time.Second,
		Metrics:  recorder,
	})
	require.NoError(t, err)

	return &fixture{hw: hw, alarms: alarms, metrics: recorder, controller: controller}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.controller.Tick(context.Background()))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := thermal.New(thermal.Config{})
	assert.True(t, errors.HasCode(err, thermal.ErrInvalidInterval))

	_, err = thermal.New(thermal.Config{
		Interval: time.Second,
		Levels: []thermal.Level{
			{Name: "A", Rate: 50},
			{Name: "B", Rate: 40},
		},
	})
	assert.True(t, errors.HasCode(err, thermal.ErrInvalidLevels))
}

func TestUpshiftMovesOneLevel(t *testing.T) {
	f := newFixture(t)
	f.hw.SetTemperature(hardware.Linecard, 1, 36)

	f.tick(t)
	assert.Equal(t, 50, f.hw.Rate(7))
	assert.Equal(t, 50, f.hw.Rate(8))

	// 36 is below S2's upshift threshold
	f.tick(t)
	assert.Equal(t, 50, f.hw.Rate(7))

	f.hw.SetTemperature(hardware.Linecard, 1, 70)
	f.tick(t)
	assert.Equal(t, 65, f.hw.Rate(7))
	f.tick(t)
	assert.Equal(t, 80, f.hw.Rate(7))
}

func TestDownshiftUsesLowerThreshold(t *testing.T) {
	f := newFixture(t)
	f.hw.SetRate(7, 50)
	f.hw.SetRate(8, 50)

	f.hw.SetTemperature(hardware.Linecard, 2, 34)
	f.tick(t)
	assert.Equal(t, 50, f.hw.Rate(7))

	f.hw.SetTemperature(hardware.Linecard, 2, 32)
	f.tick(t)
	assert.Equal(t, 40, f.hw.Rate(7))
	assert.Equal(t, 40, f.hw.Rate(8))
}

func TestLowestLevelIsNeverReentered(t *testing.T) {
	f := newFixture(t)
	f.hw.SetTemperature(hardware.Linecard, 1, 20)

	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	assert.Equal(t, 40, f.hw.Rate(7))
	assert.Empty(t, f.metrics.changes)

	// a fan already at the bottom rate stays there
	f.hw.SetRate(8, 30)
	f.tick(t)
	assert.Equal(t, 30, f.hw.Rate(8))
}

func TestOffCurveRateSettlesDownward(t *testing.T) {
	f := newFixture(t)
	f.hw.SetRate(7, 45)
	f.hw.SetTemperature(hardware.Linecard, 1, 20)

	f.tick(t)
	assert.Equal(t, 40, f.hw.Rate(7))
	assert.Equal(t, []string{"down"}, f.metrics.changes)

	f.hw.SetTemperature(hardware.Linecard, 1, 36)
	f.tick(t)
	assert.Equal(t, 50, f.hw.Rate(7))
	assert.Equal(t, []string{"down", "up", "up"}, f.metrics.changes)
}

func TestFullSpeedWhenFanMissing(t *testing.T) {
	f := newFixture(t)
	f.hw.SetPresent(hardware.Fan, 8, false)
	f.hw.SetTemperature(hardware.Linecard, 1, 20)

	f.tick(t)
	assert.Equal(t, 100, f.hw.Rate(7))
	assert.Equal(t, 40, f.hw.Rate(8))
}

func TestFullSpeedWhenInletUnknown(t *testing.T) {
	f := newFixture(t)

	f.tick(t)
	assert.Equal(t, 100, f.hw.Rate(7))
	assert.Equal(t, 100, f.hw.Rate(8))
}

func TestFullSpeedOnAlarms(t *testing.T) {
	tests := []struct {
		resource string
		typeID   string
	}{
		{"CHASSIS-1", alarm.ChassisTempHiAlm},
		{"LINECARD-1-3", alarm.SlotCommFail},
	}
	for _, tt := range tests {
		t.Run(tt.typeID, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.hw.SetTemperature(hardware.Linecard, 1, 20)
			require.NoError(t, f.alarms.Create(ctx, tt.resource, tt.typeID))

			f.tick(t)
			assert.Equal(t, 100, f.hw.Rate(7))

			require.NoError(t, f.alarms.Clear(ctx, tt.resource, tt.typeID))
			f.tick(t)
			assert.Equal(t, 80, f.hw.Rate(7))
		})
	}
}

func TestInletTemperature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.Equal(t, hardware.InvalidTemperature, f.controller.InletTemperature(ctx))

	f.hw.SetTemperature(hardware.CU, 1, 45)
	assert.InDelta(t, 45.0, f.controller.InletTemperature(ctx), 0.001)

	f.hw.SetTemperature(hardware.Linecard, 1, 30)
	f.hw.SetTemperature(hardware.Linecard, 3, 41.5)
	assert.InDelta(t, 41.5, f.controller.InletTemperature(ctx), 0.001)
}

func TestManualFansAreLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.controller.SetManual(ctx, 7, 70))
	assert.Equal(t, 70, f.hw.Rate(7))
	rate, ok := f.controller.Manual(7)
	assert.True(t, ok)
	assert.Equal(t, 70, rate)

	// no inlet temperature: automatic fans go to full speed
	f.tick(t)
	assert.Equal(t, 70, f.hw.Rate(7))
	assert.Equal(t, 100, f.hw.Rate(8))

	require.NoError(t, f.controller.SetAuto(7))
	f.tick(t)
	assert.Equal(t, 100, f.hw.Rate(7))
}

func TestApplyOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.controller.ApplyOverrides(ctx, map[int]int{7: 60}))
	assert.Equal(t, 60, f.hw.Rate(7))
	_, manual := f.controller.Manual(8)
	assert.False(t, manual)

	// a later set releases fan 7 and pins fan 8
	require.NoError(t, f.controller.ApplyOverrides(ctx, map[int]int{8: 55}))
	_, manual = f.controller.Manual(7)
	assert.False(t, manual)
	rate, manual := f.controller.Manual(8)
	assert.True(t, manual)
	assert.Equal(t, 55, rate)

	err := f.controller.ApplyOverrides(ctx, map[int]int{3: 50, 7: 70})
	assert.True(t, errors.HasCode(err, thermal.ErrUnknownFan))
	assert.Equal(t, 70, f.hw.Rate(7))
}

func TestSetManualRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.controller.SetManual(ctx, 3, 50)
	assert.True(t, errors.HasCode(err, thermal.ErrUnknownFan))

	err = f.controller.SetManual(ctx, 7, 120)
	assert.True(t, errors.HasCode(err, thermal.ErrInvalidRate))

	assert.True(t, errors.HasCode(f.controller.SetAuto(9), thermal.ErrUnknownFan))
}

func TestFanLeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.hw.SetTemperature(hardware.Linecard, 1, 25)

	f.tick(t)
	assert.Equal(t, hardware.LedGreen, f.hw.LedColor(hardware.Fan, 7))
	assert.Equal(t, hardware.LedGreen, f.hw.LedColor(hardware.Fan, 8))

	// unchanged colors are not rewritten
	writes := f.hw.Calls(hardware.ActionSetLedColor)
	f.tick(t)
	assert.Equal(t, writes, f.hw.Calls(hardware.ActionSetLedColor))

	require.NoError(t, f.alarms.Create(ctx, "FAN-1-7", alarm.FanFail))
	require.NoError(t, f.alarms.Create(ctx, "FAN-1-8", alarm.FanLow))
	f.tick(t)
	assert.Equal(t, hardware.LedRed, f.hw.LedColor(hardware.Fan, 7))
	assert.Equal(t, hardware.LedYellow, f.hw.LedColor(hardware.Fan, 8))
}

func TestSystemLed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.hw.SetTemperature(hardware.Linecard, 1, 25)

	f.tick(t)
	assert.Equal(t, hardware.LedGreen, f.hw.LedColor(hardware.CU, 1))

	require.NoError(t, f.alarms.Create(ctx, "CHASSIS-1", alarm.DiskFull))
	f.tick(t)
	assert.Equal(t, hardware.LedYellow, f.hw.LedColor(hardware.CU, 1))

	require.NoError(t, f.alarms.Create(ctx, "CU-1", alarm.MemUsageHigh))
	f.tick(t)
	assert.Equal(t, hardware.LedRed, f.hw.LedColor(hardware.CU, 1))

	require.NoError(t, f.alarms.ClearAll(ctx, "CU-1"))
	require.NoError(t, f.alarms.ClearAll(ctx, "CHASSIS-1"))
	f.tick(t)
	assert.Equal(t, hardware.LedGreen, f.hw.LedColor(hardware.CU, 1))
}

func TestTickReportsFanFailures(t *testing.T) {
	f := newFixture(t)
	f.hw.SetTemperature(hardware.Linecard, 1, 36)
	f.hw.Fail(hardware.ActionSetFanSpeedRate, stderrors.New("bus error"))

	err := f.controller.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, thermal.ErrFanControl))
	assert.Equal(t, 2, f.hw.Calls(hardware.ActionSetFanSpeedRate))
}

func TestFullSpeedOnShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.controller.SetManual(ctx, 8, 35))

	require.NoError(t, f.controller.FullSpeed(ctx))
	assert.Equal(t, 100, f.hw.Rate(7))
	assert.Equal(t, 35, f.hw.Rate(8))
}
