package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/otnpmon/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledReturnsNoop(t *testing.T) {
	c, err := metrics.NewService(metrics.DefaultConfig())
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())
	assert.Nil(t, c.Handler())

	// must not panic
	c.AlarmCreated("FAN_FAIL", "CRITICAL")
	c.SyncCompleted("FAN", time.Second, nil)
}

func TestEnabledRequiresListen(t *testing.T) {
	_, err := metrics.NewService(metrics.Config{Enabled: true})
	assert.Error(t, err)
}

func scrape(t *testing.T, c metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCollectorExposesCounters(t *testing.T) {
	c, err := metrics.NewService(metrics.Config{Enabled: true, Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	require.True(t, c.IsEnabled())

	c.AlarmCreated("FAN_FAIL", "CRITICAL")
	c.AlarmCreated("FAN_FAIL", "CRITICAL")
	c.AlarmCleared("FAN_FAIL", "CRITICAL")
	c.PmRollover("15")
	c.SyncCompleted("PSU", 20*time.Millisecond, errors.New("boom"))
	c.FanLevel("FAN-1-7", 3)
	c.FanLevelChanged("up")
	c.HardwareRetry("periph_presence")
	c.HardwareFailure("periph_presence")

	body := scrape(t, c)
	assert.Contains(t, body, `otnpmon_alarms_created_total{severity="CRITICAL",type_id="FAN_FAIL"} 2`)
	assert.Contains(t, body, `otnpmon_alarms_cleared_total{severity="CRITICAL",type_id="FAN_FAIL"} 1`)
	assert.Contains(t, body, `otnpmon_pm_rollovers_total{period="15"} 1`)
	assert.Contains(t, body, `otnpmon_sync_total{periph_type="PSU",result="error"} 1`)
	assert.Contains(t, body, `otnpmon_fan_control_level{fan="FAN-1-7"} 3`)
	assert.Contains(t, body, `otnpmon_fan_level_changes_total{direction="up"} 1`)
	assert.Contains(t, body, `otnpmon_hardware_retries_total{action="periph_presence"} 1`)
	assert.Contains(t, body, `otnpmon_hardware_failures_total{action="periph_presence"} 1`)
}

func TestSlotStatusKeepsOnlyCurrent(t *testing.T) {
	c, err := metrics.NewService(metrics.Config{Enabled: true, Listen: "127.0.0.1:0"})
	require.NoError(t, err)

	c.SlotStatus("PSU-1-5", "INIT")
	c.SlotStatus("PSU-1-5", "READY")

	body := scrape(t, c)
	assert.Contains(t, body, `otnpmon_slot_status{resource="PSU-1-5",status="READY"} 1`)
	assert.False(t, strings.Contains(body, `status="INIT"`))
}
