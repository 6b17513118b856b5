package alarm_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/store"
	"codeberg.org/mutker/otnpmon/internal/telemetry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e telemetry.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (*recordingPublisher) Close() error { return nil }

type fixture struct {
	engine    *alarm.Engine
	router    *store.Router
	clock     *clock.FakeClock
	publisher *recordingPublisher
}

func newFixture() *fixture {
	clk := clock.Fake(epoch)
	router := store.NewRouter(store.NewMemory(clk), 4)
	publisher := &recordingPublisher{}
	return &fixture{
		engine: alarm.New(alarm.Config{
			Router:    router,
			Clock:     clk,
			Publisher: publisher,
		}),
		router:    router,
		clock:     clk,
		publisher: publisher,
	}
}

func (f *fixture) currentKeys(t *testing.T, resource string) []string {
	t.Helper()
	keys, err := f.router.For(resource, store.State).GetKeys(context.Background(), alarm.TableCurrent)
	require.NoError(t, err)
	return ownKeys(keys, resource)
}

func (f *fixture) historyKeys(t *testing.T, resource string) []string {
	t.Helper()
	keys, err := f.router.For(resource, store.History).GetKeys(context.Background(), alarm.TableHistory)
	require.NoError(t, err)
	return ownKeys(keys, resource)
}

// ownKeys drops the keys of other resources sharing the partition.
func ownKeys(keys []string, resource string) []string {
	return lo.Filter(keys, func(key string, _ int) bool {
		return strings.HasPrefix(key, resource+"#")
	})
}

func TestCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.FanFail))
	f.clock.Advance(time.Second)
	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.FanFail))

	assert.Equal(t, []string{"FAN-1-7#FAN_FAIL"}, f.currentKeys(t, "FAN-1-7"))

	records, err := f.engine.Current(ctx, "FAN-1-7")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, alarm.Record{
		ID:          "FAN-1-7#FAN_FAIL",
		Resource:    "FAN-1-7",
		TypeID:      alarm.FanFail,
		Severity:    alarm.Critical,
		Text:        "FAN CARD FAIL",
		TimeCreated: epoch.UnixNano(),
	}, records[0])
	assert.Len(t, f.publisher.events, 1)
}

func TestCreateUnknownTypeIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", "NOT_A_TYPE"))
	require.NoError(t, f.engine.CreateAndClearOthers(ctx, "FAN-1-7", "NOT_A_TYPE", ""))
	assert.Empty(t, f.currentKeys(t, "FAN-1-7"))
}

func TestCreateThenClearArchives(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "PSU-1-5", alarm.VoltageInputHigh))
	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.engine.Clear(ctx, "PSU-1-5", alarm.VoltageInputHigh))

	assert.Empty(t, f.currentKeys(t, "PSU-1-5"))

	historyKey := "PSU-1-5#VOLTAGE_INPUT_HIGH_" + itoa(epoch.UnixNano())
	assert.Equal(t, []string{historyKey}, f.historyKeys(t, "PSU-1-5"))

	fields, ok, err := f.router.For("PSU-1-5", store.History).GetEntry(ctx, alarm.TableHistory, historyKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, itoa(epoch.Add(3*time.Second).UnixNano()), fields[alarm.FieldTimeCleared])
	assert.Equal(t, itoa(epoch.UnixNano()), fields[alarm.FieldTimeCreated])
	assert.Equal(t, "CRITICAL", fields[alarm.FieldSeverity])

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, telemetry.AlarmCleared, f.publisher.events[1].Kind)

	// clearing again is a no-op
	require.NoError(t, f.engine.Clear(ctx, "PSU-1-5", alarm.VoltageInputHigh))
	assert.Len(t, f.historyKeys(t, "PSU-1-5"), 1)
}

func TestHistoryExpiresAfterAWeek(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "CHASSIS-1", alarm.DiskFull))
	require.NoError(t, f.engine.Clear(ctx, "CHASSIS-1", alarm.DiskFull))
	require.Len(t, f.historyKeys(t, "CHASSIS-1"), 1)

	f.clock.Advance(alarm.HistoryTTL - time.Second)
	assert.Len(t, f.historyKeys(t, "CHASSIS-1"), 1)

	f.clock.Advance(time.Second)
	assert.Empty(t, f.historyKeys(t, "CHASSIS-1"))
}

func TestCreateAndClearOthersIsExclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.FanLow))
	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.FanFail))
	require.NoError(t, f.engine.Create(ctx, "FAN-1-8", alarm.FanLow))
	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.CardUnknown))

	require.NoError(t, f.engine.CreateAndClearOthers(ctx, "FAN-1-7", alarm.FanHigh, "FAN"))

	assert.Equal(t, []string{"FAN-1-7#CRD_UNKNOWN", "FAN-1-7#FAN_HIGH"}, f.currentKeys(t, "FAN-1-7"))
	assert.Len(t, f.historyKeys(t, "FAN-1-7"), 2)

	exists, err := f.engine.Exists(ctx, "FAN-1-8", alarm.FanLow)
	require.NoError(t, err)
	assert.True(t, exists, "other resources are untouched")
}

func TestCreateAndClearOthersKeepsSameAlarm(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "FAN-1-7", alarm.FanHigh))
	require.NoError(t, f.engine.CreateAndClearOthers(ctx, "FAN-1-7", alarm.FanHigh, "FAN"))

	assert.Equal(t, []string{"FAN-1-7#FAN_HIGH"}, f.currentKeys(t, "FAN-1-7"))
	assert.Empty(t, f.historyKeys(t, "FAN-1-7"))
}

func TestClearBy(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "CHASSIS-1", alarm.ChassisTempHiWar))
	require.NoError(t, f.engine.Create(ctx, "CHASSIS-1", alarm.DiskFull))

	require.NoError(t, f.engine.ClearBy(ctx, "CHASSIS-1", "CHASSIS_TEMP"))
	assert.Equal(t, []string{"CHASSIS-1#DISK_FULL"}, f.currentKeys(t, "CHASSIS-1"))

	require.NoError(t, f.engine.ClearAll(ctx, "CHASSIS-1"))
	assert.Empty(t, f.currentKeys(t, "CHASSIS-1"))
	assert.Len(t, f.historyKeys(t, "CHASSIS-1"), 2)
}

func TestLineCardAlarmsLiveInSlotPartition(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "LINECARD-1-3", alarm.SlotCommFail))

	keys, err := f.router.Partition(3, store.State).GetKeys(ctx, alarm.TableCurrent)
	require.NoError(t, err)
	assert.Equal(t, []string{"LINECARD-1-3#SLOT_COMM_FAIL"}, keys)

	keys, err = f.router.Partition(store.HostPartition, store.State).GetKeys(ctx, alarm.TableCurrent)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExistsByTypeScansAllPartitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	exists, err := f.engine.ExistsByType(ctx, "TEMP_HIALM")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, f.engine.Create(ctx, "LINECARD-1-4", alarm.SlotCommFail))
	require.NoError(t, f.engine.Create(ctx, "CHASSIS-1", alarm.ChassisTempHiAlm))

	for _, typeID := range []string{"SLOT_COMM_FAIL", "TEMP_HIALM", alarm.ChassisTempHiAlm} {
		exists, err = f.engine.ExistsByType(ctx, typeID)
		require.NoError(t, err)
		assert.True(t, exists, typeID)
	}

	exists, err = f.engine.ExistsByType(ctx, alarm.FanFail)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExistsBySeverity(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.engine.Create(ctx, "LINECARD-1-2", alarm.CardMissing))

	exists, err := f.engine.ExistsBySeverity(ctx, alarm.Major)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.engine.ExistsBySeverity(ctx, alarm.Critical)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []alarm.Severity{alarm.NotAlarmed, alarm.Minor, alarm.Major, alarm.Critical} {
		parsed, err := alarm.ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := alarm.ParseSeverity("WARNING")
	assert.Error(t, err)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
