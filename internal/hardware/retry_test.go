package hardware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	apperrors "codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/hardware/hardwaretest"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func retrying(fake *hardwaretest.Fake, clk clock.Clock) hardware.Service {
	return hardware.WithRetry(fake, hardware.RetryConfig{
		Attempts: 35,
		Delay:    time.Second,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})
}

func TestRetryExhaustion(t *testing.T) {
	fake := hardwaretest.New()
	fake.Fail(hardware.ActionPresence, errors.New("connection refused"))
	clk := clock.Fake(epoch)

	_, err := retrying(fake, clk).Presence(context.Background(), hardware.Fan, 7)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, hardware.ErrRetriesExhausted))
	assert.Equal(t, 35, fake.Calls(hardware.ActionPresence))
	assert.Equal(t, epoch.Add(34*time.Second), clk.Now())
}

type retryCounter struct {
	metrics.Collector
	retries, failures int
}

func (c *retryCounter) HardwareRetry(string)   { c.retries++ }
func (c *retryCounter) HardwareFailure(string) { c.failures++ }

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	fake := hardwaretest.New()
	fake.SetPresent(hardware.Fan, 7, true)
	fake.Fail(hardware.ActionPresence, errors.New("connection refused"))
	clk := clock.Fake(epoch)
	clk.AfterFunc(3*time.Second, func() { fake.Fail(hardware.ActionPresence, nil) })
	counter := &retryCounter{Collector: metrics.Noop()}

	svc := hardware.WithRetry(fake, hardware.RetryConfig{
		Attempts: 35,
		Delay:    time.Second,
		Clock:    clk,
		Metrics:  counter,
	})
	present, err := svc.Presence(context.Background(), hardware.Fan, 7)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 4, fake.Calls(hardware.ActionPresence))
	assert.Equal(t, epoch.Add(3*time.Second), clk.Now())
	assert.Equal(t, 3, counter.retries)
	assert.Zero(t, counter.failures)
}

func TestRetrySucceedsWithoutDelay(t *testing.T) {
	fake := hardwaretest.New()
	fake.SetPresent(hardware.PSU, 5, true)
	clk := clock.Fake(epoch)

	present, err := retrying(fake, clk).Presence(context.Background(), hardware.PSU, 5)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 1, fake.Calls(hardware.ActionPresence))
	assert.Equal(t, epoch, clk.Now())
}

func TestRetrySkipsServiceErrors(t *testing.T) {
	fake := hardwaretest.New()
	fake.Fail(hardware.ActionSetFanSpeedRate, &hardware.ServiceError{Action: hardware.ActionSetFanSpeedRate, Message: "bad rate"})

	err := retrying(fake, clock.Fake(epoch)).SetFanSpeedRate(context.Background(), 7, 500)
	require.Error(t, err)
	assert.True(t, hardware.IsServiceError(err))
	assert.Equal(t, 1, fake.Calls(hardware.ActionSetFanSpeedRate))
}

func TestRetryStopsOnCancel(t *testing.T) {
	fake := hardwaretest.New()
	fake.Fail(hardware.ActionTemperature, errors.New("timeout"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	temp, err := retrying(fake, clock.Fake(epoch)).Temperature(ctx, hardware.CU, 1)
	require.Error(t, err)
	assert.Equal(t, hardware.InvalidTemperature, temp)
	assert.Equal(t, 0, fake.Calls(hardware.ActionTemperature))
}

func TestRetryPassesInventoryThrough(t *testing.T) {
	fake := hardwaretest.New()
	fake.SetInventory(hardware.Fan, 7, hardware.Inventory{PN: "FAN-PN"})

	inv, ok, err := retrying(fake, clock.Fake(epoch)).Inventory(context.Background(), hardware.Fan, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "FAN-PN", inv.PN)
}
