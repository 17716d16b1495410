package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []reminder.LocalNotification
	users     []uuid.UUID
}

func (d *recordingDeliverer) Deliver(_ context.Context, userID uuid.UUID, n reminder.LocalNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, n)
	d.users = append(d.users, userID)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func TestNotificationHub_OneShotFiresOnce(t *testing.T) {
	d := &recordingDeliverer{}
	hub := NewNotificationHub(time.UTC, d)
	user := uuid.New()
	local := hub.For("install-0001", user)

	err := local.Schedule(context.Background(), reminder.LocalNotification{
		ID: 7, Title: "t", Body: "b", FireAt: time.Now().Add(20 * time.Millisecond),
		Extra: map[string]string{"type": reminder.KindReviewReminder},
	})
	require.NoError(t, err)
	assert.Len(t, hub.Pending("install-0001"), 1)

	require.Eventually(t, func() bool { return d.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, hub.Pending("install-0001"))
	assert.Equal(t, user, d.users[0])
}

func TestNotificationHub_SameIDReplacesAndCancel(t *testing.T) {
	d := &recordingDeliverer{}
	hub := NewNotificationHub(time.UTC, d)
	local := hub.For("install-0001", uuid.New())
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	require.NoError(t, local.Schedule(ctx, reminder.LocalNotification{ID: 7, Body: "first", FireAt: later}))
	require.NoError(t, local.Schedule(ctx, reminder.LocalNotification{ID: 7, Body: "second", FireAt: later}))

	pending := hub.Pending("install-0001")
	require.Len(t, pending, 1)
	assert.Equal(t, "second", pending[0].Body)

	require.NoError(t, local.Cancel(ctx, 7))
	assert.Empty(t, hub.Pending("install-0001"))
	require.NoError(t, local.Cancel(ctx, 7), "cancelling an unknown id is not an error")
}

func TestNotificationHub_WeeklyBecomesCronEntry(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	hub := NewNotificationHub(loc, &recordingDeliverer{})
	local := hub.For("install-0001", uuid.New())
	fireAt := time.Date(2026, 10, 14, 19, 0, 0, 0, loc)

	require.NoError(t, local.Schedule(context.Background(), reminder.LocalNotification{
		ID: reminder.FixedReminderID, FireAt: fireAt, Every: reminder.Weekly,
	}))

	entries := hub.cron.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Schedule.Next(fireAt.Add(-time.Minute))
	assert.True(t, fireAt.Equal(next), "next run %s", next)

	hub.CancelAll("install-0001")
	assert.Empty(t, hub.cron.Entries())
}

func TestNotificationHub_InstallsAreIsolated(t *testing.T) {
	hub := NewNotificationHub(time.UTC, &recordingDeliverer{})
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	require.NoError(t, hub.For("install-aaaa", uuid.New()).Schedule(ctx, reminder.LocalNotification{ID: 1, FireAt: later}))
	require.NoError(t, hub.For("install-bbbb", uuid.New()).Schedule(ctx, reminder.LocalNotification{ID: 1, FireAt: later}))
	require.NoError(t, hub.For("install-aaaa", uuid.New()).Cancel(ctx, 1))

	assert.Empty(t, hub.Pending("install-aaaa"))
	assert.Len(t, hub.Pending("install-bbbb"), 1)
	hub.CancelAll("install-bbbb")
}
