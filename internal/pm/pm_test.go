package pm_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/pm"
	"codeberg.org/mutker/otnpmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aligned to both the 15 minute and the 24 hour bucket
var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newAggregator() (*pm.Aggregator, *store.Router, *clock.FakeClock) {
	clk := clock.Fake(epoch)
	router := store.NewRouter(store.NewMemory(clk), 4)
	return pm.NewAggregator(pm.Config{Router: router, Clock: clk}), router, clk
}

func ns(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func TestPeriod(t *testing.T) {
	assert.Equal(t, "15", pm.Short.Label())
	assert.Equal(t, "24", pm.Long.Label())
	assert.Equal(t, int64(15*60*1e9), pm.Short.Interval().Nanoseconds())
	assert.Equal(t, int64(24*60*60*1e9), pm.Long.Interval().Nanoseconds())
}

func TestUpdateWithinBucket(t *testing.T) {
	ctx := context.Background()
	agg, router, clk := newAggregator()
	series := agg.Series("FAN", "FAN-1-7", "Speed", pm.Short)

	clk.Advance(time.Minute)
	require.NoError(t, series.Update(ctx, 12000))
	clk.Advance(time.Minute)
	require.NoError(t, series.Update(ctx, 12345))

	w := series.Window()
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, epoch.UnixNano(), w.StartTime)
	assert.InDelta(t, 12172.5, w.Avg, 1e-9)

	fields, ok, err := router.For("FAN-1-7", store.Counters).
		GetEntry(ctx, "FAN", "FAN-1-7_Speed:15_pm_current")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Fields{
		pm.FieldStartTime: ns(epoch),
		pm.FieldInstant:   "12345",
		pm.FieldAvg:       "12172.5",
		pm.FieldMin:       "12000",
		pm.FieldMax:       "12345",
		pm.FieldInterval:  "900000000000",
		pm.FieldMinTime:   ns(epoch.Add(time.Minute)),
		pm.FieldMaxTime:   ns(epoch.Add(2 * time.Minute)),
		pm.FieldValidity:  pm.ValidityIncomplete,
	}, fields)
}

func TestAverageRoundsToOneDecimal(t *testing.T) {
	ctx := context.Background()
	agg, _, clk := newAggregator()
	series := agg.Series("CU", "CU-1", "Temperature", pm.Short)

	clk.Advance(time.Second)
	for _, v := range []float64{40, 41, 41} {
		require.NoError(t, series.Update(ctx, v))
	}
	assert.InDelta(t, 40.7, series.Window().Avg, 1e-9)
}

func TestWholeAverageKeepsDecimalPoint(t *testing.T) {
	ctx := context.Background()
	agg, router, clk := newAggregator()
	series := agg.Series("CHASSIS", "CHASSIS-1", "Temperature", pm.Short)

	clk.Advance(time.Second)
	require.NoError(t, series.Update(ctx, 20))
	require.NoError(t, series.Update(ctx, 22))

	fields, ok, err := router.For("CHASSIS-1", store.Counters).
		GetEntry(ctx, "CHASSIS", "CHASSIS-1_Temperature:15_pm_current")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "21.0", fields[pm.FieldAvg])
	assert.Equal(t, "20", fields[pm.FieldMin])
	assert.Equal(t, "22", fields[pm.FieldMax])
	assert.Equal(t, "22", fields[pm.FieldInstant])
}

func TestMinMaxFirstSampleSentinel(t *testing.T) {
	ctx := context.Background()
	agg, _, clk := newAggregator()
	series := agg.Series("PSU", "PSU-1-5", "InputVoltage", pm.Short)

	// a first sample above zero still becomes the minimum
	clk.Advance(time.Second)
	require.NoError(t, series.Update(ctx, 230))
	clk.Advance(time.Second)
	require.NoError(t, series.Update(ctx, 228))
	clk.Advance(time.Second)
	require.NoError(t, series.Update(ctx, 231))

	w := series.Window()
	assert.Equal(t, 228.0, w.Min)
	assert.Equal(t, epoch.Add(2*time.Second).UnixNano(), w.MinTime)
	assert.Equal(t, 231.0, w.Max)
	assert.Equal(t, epoch.Add(3*time.Second).UnixNano(), w.MaxTime)
}

func TestRolloverArchivesCompleteWindow(t *testing.T) {
	ctx := context.Background()
	agg, router, clk := newAggregator()
	series := agg.Series("FAN", "FAN-1-7", "Temperature", pm.Short)

	clk.Advance(time.Minute)
	require.NoError(t, series.Update(ctx, 30))
	clk.Advance(time.Minute)
	require.NoError(t, series.Update(ctx, 31))

	clk.Advance(15 * time.Minute)
	require.NoError(t, series.Update(ctx, 35))

	w := series.Window()
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, epoch.Add(15*time.Minute).UnixNano(), w.StartTime)
	assert.Equal(t, 35.0, w.Min)

	history := router.For("FAN-1-7", store.History)
	keys, err := history.GetKeys(ctx, "FAN")
	require.NoError(t, err)
	historyKey := pm.HistoryKey("FAN-1-7", "Temperature", pm.Short, epoch.UnixNano())
	assert.Equal(t, []string{historyKey}, keys)

	fields, ok, err := history.GetEntry(ctx, "FAN", historyKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pm.ValidityComplete, fields[pm.FieldValidity])
	assert.Equal(t, "30.5", fields[pm.FieldAvg])
	assert.Equal(t, ns(epoch), fields[pm.FieldStartTime])
}

func TestShortAndLongAreIndependent(t *testing.T) {
	ctx := context.Background()
	agg, router, clk := newAggregator()

	clk.Advance(time.Minute)
	require.NoError(t, agg.UpdateBoth(ctx, "CHASSIS", "CHASSIS-1", "Temperature", 30))
	clk.Advance(20 * time.Minute)
	require.NoError(t, agg.UpdateBoth(ctx, "CHASSIS", "CHASSIS-1", "Temperature", 32))

	assert.Equal(t, 1, agg.Series("CHASSIS", "CHASSIS-1", "Temperature", pm.Short).Window().Count)
	assert.Equal(t, 2, agg.Series("CHASSIS", "CHASSIS-1", "Temperature", pm.Long).Window().Count)

	keys, err := router.For("CHASSIS-1", store.Counters).GetKeys(ctx, "CHASSIS")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CHASSIS-1_Temperature:15_pm_current",
		"CHASSIS-1_Temperature:24_pm_current",
	}, keys)
}

func TestInvalidPeriodIsNoop(t *testing.T) {
	ctx := context.Background()
	agg, router, _ := newAggregator()

	require.NoError(t, agg.Series("FAN", "FAN-1-7", "Speed", pm.Period(7)).Update(ctx, 1))

	keys, err := router.For("FAN-1-7", store.Counters).GetKeys(ctx, "FAN")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	agg, router, clk := newAggregator()

	clk.Advance(time.Minute)
	require.NoError(t, agg.UpdateBoth(ctx, "FAN", "FAN-1-7", "Speed", 9000))
	require.NoError(t, agg.UpdateBoth(ctx, "FAN", "FAN-1-70", "Speed", 9000))

	require.NoError(t, agg.Reset(ctx, "FAN-1-7"))

	keys, err := router.For("FAN-1-7", store.Counters).GetKeys(ctx, "FAN")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"FAN-1-70_Speed:15_pm_current",
		"FAN-1-70_Speed:24_pm_current",
	}, keys)

	// a fresh series starts from scratch
	require.NoError(t, agg.UpdateBoth(ctx, "FAN", "FAN-1-7", "Speed", 8000))
	assert.Equal(t, 1, agg.Series("FAN", "FAN-1-7", "Speed", pm.Short).Window().Count)
}
