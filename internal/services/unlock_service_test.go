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

func TestCanReveal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	owner := &models.User{ID: uuid.New(), Role: models.RoleUser}
	viewer := &models.User{ID: uuid.New(), Role: models.RoleUser}
	vip := &models.User{ID: uuid.New(), Role: models.RoleVIP}
	secured := &models.Toilet{OwnerID: owner.ID, Secured: true}
	open := &models.Toilet{OwnerID: owner.ID}

	assert.True(t, CanReveal(nil, open, time.Time{}, false, now))
	assert.False(t, CanReveal(nil, secured, time.Time{}, false, now))
	assert.True(t, CanReveal(owner, secured, time.Time{}, false, now))
	assert.True(t, CanReveal(vip, secured, time.Time{}, false, now))
	assert.False(t, CanReveal(viewer, secured, time.Time{}, false, now))
	assert.True(t, CanReveal(viewer, secured, now.Add(time.Minute), true, now))
	assert.False(t, CanReveal(viewer, secured, now, true, now), "a grant is exclusive of its expiry")
}

func TestUnlockService_PayWithCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 7)
	toilet := f.toilet(owner, models.VisibilityShared, "1234*")
	policy := DefaultCreditPolicy()

	_, err := f.unlocks.Reveal(ctx, viewer, toilet.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	require.NotNil(t, res.ExpiresAt)

	assert.Equal(t, 7-policy.UnlockCost, f.balance(viewer))
	assert.Equal(t, policy.OwnerUnlockReward, f.balance(owner))

	secret, err := f.unlocks.Reveal(ctx, viewer, toilet.ID)
	require.NoError(t, err)
	assert.Equal(t, "1234*", secret)

	again, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	require.NoError(t, err)
	assert.True(t, again.Granted)
	assert.Equal(t, 7-policy.UnlockCost, f.balance(viewer), "a live grant is not charged twice")

	f.advance(2 * time.Hour)
	_, err = f.unlocks.Reveal(ctx, viewer, toilet.ID)
	assert.ErrorIs(t, err, ErrForbidden, "grants expire")

	f.requireReconciled(viewer)
	f.requireReconciled(owner)
}

func TestUnlockService_InsufficientCreditsOffersAd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 2)
	toilet := f.toilet(owner, models.VisibilityShared, "0000")

	res, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NotNil(t, res)
	assert.True(t, res.AdAvailable)
	assert.False(t, res.Granted)

	assert.Equal(t, 2, f.balance(viewer))
	assert.Equal(t, 0, f.balance(owner))
	_, ok, _ := f.grants.ExpiresAt(ctx, viewer.ID, toilet.ID)
	assert.False(t, ok, "no grant is written without a charge")
}

// watchedGrants runs onPut before storing a grant and fails with err when set.
type watchedGrants struct {
	GrantStore
	onPut func()
	err   error
}

func (w *watchedGrants) Put(ctx context.Context, userID, toiletID uuid.UUID, expiresAt time.Time) error {
	if w.onPut != nil {
		w.onPut()
	}
	if w.err != nil {
		return w.err
	}
	return w.GrantStore.Put(ctx, userID, toiletID, expiresAt)
}

func TestUnlockService_GrantFollowsCommittedCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	broke := f.user(models.RoleUser, 0)
	payer := f.user(models.RoleUser, 7)
	toilet := f.toilet(owner, models.VisibilityShared, "4321")

	var balanceAtPut []int
	var current *models.User
	f.unlocks.grants = &watchedGrants{GrantStore: f.grants, onPut: func() {
		balanceAtPut = append(balanceAtPut, f.balance(current))
	}}

	current = broke
	_, err := f.unlocks.RequestUnlock(ctx, broke, toilet.ID, UnlockWithCredit)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.unlocks.Reveal(ctx, broke, toilet.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, balanceAtPut, "an unpaid unlock never writes a grant")

	current = payer
	_, err = f.unlocks.RequestUnlock(ctx, payer, toilet.ID, UnlockWithCredit)
	require.NoError(t, err)
	assert.Equal(t, []int{7 - DefaultCreditPolicy().UnlockCost}, balanceAtPut)
}

func TestUnlockService_GrantFailureRefundsCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 7)
	toilet := f.toilet(owner, models.VisibilityShared, "4321")
	f.unlocks.grants = &watchedGrants{GrantStore: f.grants, err: errors.New("redis: connection refused")}

	_, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)

	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, 7, f.balance(viewer))
	assert.Equal(t, 0, f.balance(owner))
	assert.Len(t, f.entries(viewer), 3, "seed, charge and refund")
	f.requireReconciled(viewer)
	f.requireReconciled(owner)
	_, err = f.unlocks.Reveal(ctx, viewer, toilet.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUnlockService_AdGrantFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "4321")
	failing := &watchedGrants{GrantStore: f.grants, err: errors.New("redis: connection refused")}
	f.unlocks.grants = failing

	res, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithAd)
	require.NoError(t, err)
	_, err = f.ads.Complete(ctx, res.AdSessionID)
	require.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, 0, f.balance(owner), "the owner reward is taken back")

	failing.err = nil
	_, err = f.ads.Complete(ctx, res.AdSessionID)
	require.NoError(t, err)
	secret, err := f.unlocks.Reveal(ctx, viewer, toilet.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", secret)
	assert.Equal(t, DefaultCreditPolicy().OwnerUnlockReward, f.balance(owner))
	f.requireReconciled(viewer)
	f.requireReconciled(owner)
}

func TestUnlockService_AdUnlockIsNetZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "4321")

	res, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithAd)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	require.NotEmpty(t, res.AdSessionID)

	session, err := f.ads.Complete(ctx, res.AdSessionID)
	require.NoError(t, err)
	assert.Equal(t, AdPurposeUnlock, session.Purpose)

	secret, err := f.unlocks.Reveal(ctx, viewer, toilet.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", secret)
	assert.Equal(t, 0, f.balance(viewer))
	assert.Len(t, f.entries(viewer), 2)
	assert.Equal(t, DefaultCreditPolicy().OwnerUnlockReward, f.balance(owner))
	f.requireReconciled(viewer)
}

func TestUnlockService_Bypass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	admin := f.user(models.RoleAdmin, 0)
	viewer := f.user(models.RoleUser, 0)
	secured := f.toilet(owner, models.VisibilityShared, "9999")
	open := f.toilet(owner, models.VisibilityShared, "")

	for _, tc := range []struct {
		user   *models.User
		toilet *models.Toilet
	}{{owner, secured}, {admin, secured}, {viewer, open}} {
		res, err := f.unlocks.RequestUnlock(ctx, tc.user, tc.toilet.ID, UnlockWithCredit)
		require.NoError(t, err)
		assert.True(t, res.Bypass)
	}
	assert.Equal(t, 0, f.balance(owner))
	assert.Len(t, f.entries(viewer), 0)
}

func TestUnlockService_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 10)
	toilet := f.toilet(owner, models.VisibilityShared, "1")

	_, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, "coupon")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.unlocks.RequestUnlock(ctx, viewer, uuid.New(), UnlockWithCredit)
	assert.ErrorIs(t, err, ErrNotFound)

	require.True(t, f.unlocks.inflight.TryAcquire(grantKey(viewer.ID, toilet.ID)))
	_, err = f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	assert.ErrorIs(t, err, ErrUnlockInFlight)
	f.unlocks.inflight.Release(grantKey(viewer.ID, toilet.ID))

	viewer.Status = models.StatusWithdrawn
	_, err = f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	assert.ErrorIs(t, err, ErrTerminalUser)
	assert.Equal(t, 10, f.balance(viewer))
}

func TestUnlockService_ClosedOwnerIsNotRewarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	viewer := f.user(models.RoleUser, 10)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	require.NoError(t, f.db.Model(owner).Update("status", models.StatusWithdrawn).Error)

	res, err := f.unlocks.RequestUnlock(ctx, viewer, toilet.ID, UnlockWithCredit)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, 10-DefaultCreditPolicy().UnlockCost, f.balance(viewer))
	assert.Len(t, f.entries(owner), 0)
}

func TestAdService_FailedRedemptionIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.user(models.RoleUser, 0)

	calls := 0
	f.ads.Handle("flaky", func(ctx context.Context, s AdSession) error {
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	})

	session, err := f.ads.Begin(ctx, viewer.ID, "flaky", "ref")
	require.NoError(t, err)

	_, err = f.ads.Complete(ctx, session.ID)
	require.Error(t, err)
	_, err = f.ads.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = f.ads.Begin(ctx, viewer.ID, "unknown", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdService_CreditPurposeAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.user(models.RoleUser, 0)

	session, err := f.ads.Begin(ctx, viewer.ID, AdPurposeCredit, "")
	require.NoError(t, err)
	_, err = f.ads.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultCreditPolicy().AdView, f.balance(viewer))

	stale, err := f.ads.Begin(ctx, viewer.ID, AdPurposeCredit, "")
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.ads.Complete(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrAdSessionUnknown)
}
