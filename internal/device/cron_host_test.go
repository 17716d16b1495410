package device

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCronHost_RunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	host := NewCronHost(time.UTC, time.Second)
	host.Start()

	var runs atomic.Int32
	var sawBackground atomic.Bool
	reg := host.For("install-0001")
	err := reg.Configure(context.Background(), time.Second, func(ctx context.Context, done func()) {
		defer done()
		sawBackground.Store(IsBackground(ctx))
		runs.Add(1)
	})
	require.NoError(t, err)
	assert.True(t, host.Registered("install-0001"))

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.True(t, sawBackground.Load())

	require.NoError(t, reg.Stop(context.Background()))
	assert.False(t, host.Registered("install-0001"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, host.Stop(ctx))
}

func TestCronHost_ReconfigureReplacesEntry(t *testing.T) {
	host := NewCronHost(time.UTC, time.Second)
	reg := host.For("install-0002")
	noop := func(_ context.Context, done func()) { done() }

	require.NoError(t, reg.Configure(context.Background(), time.Minute, noop))
	require.NoError(t, reg.Configure(context.Background(), 2*time.Minute, noop))

	assert.Len(t, host.cron.Entries(), 1)
	assert.Error(t, reg.Configure(context.Background(), 0, noop))
}

func TestCronHost_RunBoundsContextAndRecovers(t *testing.T) {
	host := NewCronHost(time.UTC, 50*time.Millisecond)

	var deadlineHit atomic.Bool
	host.run("install-0003", func(ctx context.Context, done func()) {
		<-ctx.Done()
		deadlineHit.Store(ctx.Err() == context.DeadlineExceeded)
	})
	assert.True(t, deadlineHit.Load(), "a task that never finishes is cut off by the budget")

	assert.NotPanics(t, func() {
		host.run("install-0003", func(context.Context, func()) { panic("boom") })
	})

	calls := 0
	host.run("install-0003", func(_ context.Context, done func()) {
		done()
		done()
		calls++
	})
	assert.Equal(t, 1, calls)
}
