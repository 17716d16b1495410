package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/push"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []push.Message
	err  error
}

func (c *recordingChannel) Deliver(_ context.Context, msg push.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fixture wires every service against one in-memory database and a shared
// fake clock.
type fixture struct {
	t     *testing.T
	db    *gorm.DB
	now   time.Time
	ticks atomic.Int64
	push  *recordingChannel

	settings *SettingsService
	policy   *PolicyService
	notifier *NotificationService
	ledger   *Ledger
	activity *ActivityService
	adStore  *MemoryAdSessionStore
	ads      *AdService
	grants   *MemoryGrantStore
	toilets  *ToiletService
	reviews  *ReviewService
	reports  *ReportService
	unlocks  *UnlockService
	auth     *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.CreditTransaction{},
		&models.Toilet{},
		&models.Review{},
		&models.Report{},
		&models.BannedLocation{},
		&models.Notification{},
		&models.AppSetting{},
	))

	f := &fixture{
		t:    t,
		db:   db,
		now:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		push: &recordingChannel{},
	}
	// Every reading moves forward by a microsecond so ledger entries keep
	// their creation order.
	clock := func() time.Time {
		return f.now.Add(time.Duration(f.ticks.Add(1)) * time.Microsecond)
	}

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: 7 * 24 * time.Hour,
		AdminEmails:      "admin@example.com",
	}
	guard := abuse.NewGuard(abuse.DefaultLimits())

	f.settings = NewSettingsService(db)
	f.policy = NewPolicyService(f.settings)
	f.policy.now = clock
	f.notifier = NewNotificationService(db, f.push, time.UTC)
	f.notifier.now = clock
	f.ledger = NewLedger(db, f.notifier, f.settings)
	f.ledger.now = clock
	f.activity = NewActivityService(db, f.ledger, f.policy, f.settings, f.notifier)
	f.adStore = NewMemoryAdSessionStore()
	f.adStore.now = clock
	f.ads = NewAdService(f.adStore, 10*time.Minute, f.ledger, f.policy)
	f.ads.now = clock
	f.grants = NewMemoryGrantStore()
	f.toilets = NewToiletService(db, f.ledger, f.policy, f.notifier, f.activity)
	f.toilets.now = clock
	f.reviews = NewReviewService(db, guard, f.ledger, f.policy, f.settings, f.notifier, f.activity, f.ads, time.UTC)
	f.reviews.now = clock
	f.reports = NewReportService(db, guard, f.ledger, f.policy, f.settings, f.notifier, f.activity, f.toilets, time.UTC)
	f.reports.now = clock
	f.unlocks = NewUnlockService(db, f.ledger, f.policy, f.grants, f.ads, time.Hour, 5*time.Second)
	f.unlocks.now = clock
	f.auth = NewAuthService(db, cfg, f.ledger, f.policy, f.activity)
	f.auth.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) user(role string, credits int) *models.User {
	f.t.Helper()
	u := &models.User{
		Email:               uuid.NewString() + "@example.com",
		Password:            "x",
		Nickname:            "tester",
		Role:                role,
		Status:              models.StatusActive,
		NotificationEnabled: true,
	}
	require.NoError(f.t, f.db.Create(u).Error)
	if credits > 0 {
		_, err := f.ledger.Apply(context.Background(), Entry{
			UserID: u.ID, Amount: credits, Type: models.TxAdminAdjust, Description: "seed",
		})
		require.NoError(f.t, err)
		u.Credits = credits
	}
	return u
}

func (f *fixture) toilet(owner *models.User, visibility, secret string) *models.Toilet {
	f.t.Helper()
	t := &models.Toilet{
		OwnerID:     owner.ID,
		Name:        "역삼역 3번 출구",
		Address:     "서울 강남구 테헤란로 1",
		Lat:         37.5006,
		Lng:         127.0364,
		Visibility:  visibility,
		SecretValue: secret,
		CreatedAt:   f.now,
	}
	require.NoError(f.t, f.db.Create(t).Error)
	return t
}

func (f *fixture) balance(u *models.User) int {
	f.t.Helper()
	b, err := f.ledger.Balance(context.Background(), u.ID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) entries(u *models.User) []models.CreditTransaction {
	f.t.Helper()
	var rows []models.CreditTransaction
	require.NoError(f.t, f.db.Where("user_id = ?", u.ID).Order("seq ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) requireReconciled(u *models.User) {
	f.t.Helper()
	r, err := f.ledger.Reconcile(context.Background(), u.ID)
	require.NoError(f.t, err)
	require.False(f.t, r.Drift, "stored %d, replayed %d", r.Stored, r.Replayed)
}
