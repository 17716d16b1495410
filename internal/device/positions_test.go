package device

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPositionCache_FreshReport(t *testing.T) {
	c := NewPositionCache(10*time.Minute, 50*time.Millisecond, 100*time.Millisecond)
	c.Report("install-0001", PositionReport{Lat: 37.5, Lng: 127, Accuracy: 15, Permission: reminder.PermissionAlways})

	pos, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyHigh)

	require.NoError(t, err)
	assert.Equal(t, 37.5, pos.Lat)
	perm, err := c.For("install-0001").CheckPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reminder.PermissionAlways, perm)
}

func TestPositionCache_StaleReportTimesOut(t *testing.T) {
	c := NewPositionCache(time.Minute, 20*time.Millisecond, 300*time.Millisecond)
	c.Report("install-0001", PositionReport{Lat: 1, Lng: 1, At: time.Now().Add(-time.Hour)})

	start := time.Now()
	_, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyCoarse)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "foreground reads use the short timeout")

	start = time.Now()
	_, err = c.For("install-0001").CurrentPosition(WithBackground(context.Background()), reminder.AccuracyCoarse)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestPositionCache_AbandonedReadsLeaveNoWaiters(t *testing.T) {
	c := NewPositionCache(time.Minute, 10*time.Millisecond, 10*time.Millisecond)
	c.Report("install-0001", PositionReport{Lat: 1, Lng: 1, At: time.Now().Add(-time.Hour)})

	for range 3 {
		_, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyCoarse)
		require.ErrorIs(t, err, ErrPositionUnavailable)
	}
	assert.Zero(t, c.pendingReads("install-0001"), "timed out reads are forgotten")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.For("install-0001").CurrentPosition(ctx, reminder.AccuracyCoarse)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.pendingReads("install-0001"), "canceled reads are forgotten")
}

func TestPositionCache_ReadWaitsForNextReport(t *testing.T) {
	c := NewPositionCache(time.Minute, 2*time.Second, 2*time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Report("install-0001", PositionReport{Lat: 35.1, Lng: 129.0})
	}()

	pos, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyCoarse)
	require.NoError(t, err)
	assert.Equal(t, 35.1, pos.Lat)
}

func TestPositionCache_ImpreciseReportIsNotHighAccuracy(t *testing.T) {
	c := NewPositionCache(time.Minute, 20*time.Millisecond, 20*time.Millisecond)
	c.Report("install-0001", PositionReport{Lat: 1, Lng: 1, Accuracy: 2500})

	_, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyHigh)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	_, err = c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyCoarse)
	assert.NoError(t, err)
}

func TestPositionCache_DeniedPermission(t *testing.T) {
	c := NewPositionCache(time.Minute, time.Second, time.Second)
	c.Report("install-0001", PositionReport{Permission: reminder.PermissionDenied})

	_, err := c.For("install-0001").CurrentPosition(context.Background(), reminder.AccuracyCoarse)
	assert.ErrorIs(t, err, reminder.ErrPermissionDenied)

	perm, _ := c.For("install-unknown").CheckPermission(context.Background())
	assert.Equal(t, reminder.PermissionPrompt, perm)
}

func TestPositionCache_Watch(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewPositionCache(time.Minute, time.Second, time.Second)
	got := make(chan reminder.Position, 1)
	sub, err := c.For("install-0001").Watch(context.Background(), func(p reminder.Position) { got <- p })
	require.NoError(t, err)

	c.Report("install-0001", PositionReport{Lat: 2, Lng: 3})
	select {
	case p := <-got:
		assert.Equal(t, 2.0, p.Lat)
	case <-time.After(time.Second):
		t.Fatal("watcher not called")
	}

	sub.Unsubscribe()
	c.Report("install-0001", PositionReport{Lat: 4, Lng: 5})
	assert.Empty(t, got)
}
