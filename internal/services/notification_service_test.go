package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) withPushToken(u *models.User, token string) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(u).Update("push_token", token).Error)
}

func (f *fixture) deliveryStatus(id uuid.UUID) models.Notification {
	f.t.Helper()
	var n models.Notification
	require.NoError(f.t, f.db.First(&n, "id = ?", id).Error)
	return n
}

func TestNotificationService_DispatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(models.RoleUser, 0)
	f.withPushToken(u, "device-token")

	n, err := f.notifier.Create(ctx, models.NotifyReviewReminder, u.ID, "리뷰", "어떠셨나요?", map[string]string{"toiletId": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, n.DeliveryStatus)

	ok, err := f.notifier.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.notifier.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Equal(t, 1, f.push.count())
	msg := f.push.sent[0]
	assert.Equal(t, n.ID.String(), msg.CollapseKey)
	assert.Equal(t, "device-token", msg.Token)
	assert.Equal(t, "reminders", msg.Channel)
	assert.Equal(t, "t-1", msg.Data["toiletId"])

	stored := f.deliveryStatus(n.ID)
	assert.Equal(t, models.DeliverySent, stored.DeliveryStatus)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestNotificationService_DispatchInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(models.RoleUser, 0)
	n, err := f.notifier.Create(ctx, models.NotifyAdminMessage, u.ID, "t", "m", nil)
	require.NoError(t, err)

	require.True(t, f.notifier.inflight.TryAcquire(n.ID.String()))
	_, err = f.notifier.Dispatch(ctx, n.ID)
	assert.ErrorIs(t, err, ErrDispatchInFlight)
	f.notifier.inflight.Release(n.ID.String())

	_, err = f.notifier.Dispatch(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationService_DispatchOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noToken := f.user(models.RoleUser, 0)
	optedOut := f.user(models.RoleUser, 0)
	require.NoError(t, f.db.Model(optedOut).Update("notification_enabled", false).Error)
	failing := f.user(models.RoleUser, 0)
	f.withPushToken(failing, "stale")

	n1 := f.notifier.Notify(ctx, models.NotifyLevelUp, noToken.ID, "t", "m", nil)
	n2 := f.notifier.Notify(ctx, models.NotifyLevelUp, optedOut.ID, "t", "m", nil)
	f.push.err = errors.New("gateway down")
	n3 := f.notifier.Notify(ctx, models.NotifyLevelUp, failing.ID, "t", "m", nil)

	assert.Equal(t, models.DeliverySent, f.deliveryStatus(n1.ID).DeliveryStatus, "the inbox record is the delivery")
	assert.Equal(t, models.DeliveryFailed, f.deliveryStatus(n2.ID).DeliveryStatus)
	assert.Equal(t, models.DeliveryFailed, f.deliveryStatus(n3.ID).DeliveryStatus)

	f.push.err = nil
	ok, err := f.notifier.Dispatch(ctx, n3.ID)
	require.NoError(t, err)
	assert.True(t, ok, "failed records may be retried")
	assert.Equal(t, 2, f.deliveryStatus(n3.ID).Attempts)
}

func TestNotificationService_Inbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(models.RoleUser, 0)
	other := f.user(models.RoleUser, 0)

	yesterday := f.notifier.Notify(ctx, models.NotifyAdminMessage, u.ID, "old", "m", nil)
	require.NoError(t, f.db.Model(&models.Notification{}).Where("id = ?", yesterday.ID).
		Update("sent_at", f.now.Add(-24*time.Hour)).Error)
	first := f.notifier.Notify(ctx, models.NotifyAdminMessage, u.ID, "a", "m", nil)
	f.notifier.Notify(ctx, models.NotifyAdminMessage, u.ID, "b", "m", nil)

	items, total, err := f.notifier.List(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, "b", items[0].Title)

	unread, err := f.notifier.UnreadCountToday(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	assert.ErrorIs(t, f.notifier.MarkRead(ctx, other.ID, first.ID), ErrNotFound)
	require.NoError(t, f.notifier.MarkRead(ctx, u.ID, first.ID))
	unread, _ = f.notifier.UnreadCountToday(ctx, u.ID)
	assert.EqualValues(t, 1, unread)

	marked, err := f.notifier.MarkAllRead(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, marked)
}

func TestNotificationService_DeleteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(models.RoleUser, 0)

	old := f.notifier.Notify(ctx, models.NotifyAdminMessage, u.ID, "old", "m", nil)
	require.NoError(t, f.db.Model(&models.Notification{}).Where("id = ?", old.ID).
		Update("sent_at", f.now.Add(-NotificationRetention-time.Hour)).Error)
	f.notifier.Notify(ctx, models.NotifyAdminMessage, u.ID, "new", "m", nil)

	deleted, err := f.notifier.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
