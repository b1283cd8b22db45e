package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibtrading/config"
)

func TestHistoricalBurstThenWait(t *testing.T) {
	l := New(config.PacingConfig{
		MessagesPerSecond: 1000,
		MessageBurst:      10,
		HistoricalPerSpan: 2,
		HistoricalSpan:    200 * time.Millisecond,
	})
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, l.WaitHistorical(ctx))
	require.NoError(t, l.WaitHistorical(ctx))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.WaitHistorical(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(config.PacingConfig{
		MessagesPerSecond: 1,
		MessageBurst:      1,
		HistoricalPerSpan: 1,
		HistoricalSpan:    time.Hour,
	})
	require.NoError(t, l.WaitMessage(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.WaitMessage(ctx))
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.WaitHistorical(context.Background()))
	}
}

func TestIsViolation(t *testing.T) {
	assert.True(t, IsViolation(100, "Max rate of messages per second has been exceeded"))
	assert.True(t, IsViolation(162, "Historical Market Data Service error message:API historical data query cancelled: Pacing violation"))
	assert.False(t, IsViolation(162, "Historical Market Data Service error message:HMDS query returned no data"))
	assert.False(t, IsViolation(200, "No security definition has been found"))
}
