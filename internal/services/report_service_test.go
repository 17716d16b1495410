package services

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func (f *fixture) reportInput(toiletID uuid.UUID) SubmitReport {
	return SubmitReport{ToiletID: toiletID, Reason: "비밀번호가 바뀌어서 들어갈 수 없어요", StartedAt: f.now.Add(-10 * time.Second)}
}

func TestReportService_SubmitNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	reporter := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")

	report, err := f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, report.Status)

	var notes []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", owner.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifyToiletReported, notes[0].Type)
	assert.Contains(t, notes[0].Message, toilet.Name)

	_, err = f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
	assert.ErrorIs(t, err, ErrDuplicateAction)
	assert.Equal(t, 0, f.balance(reporter), "reporting itself earns nothing")
}

func TestReportService_ApprovePaysReporterOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	reporter := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	report, err := f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
	require.NoError(t, err)

	approved, err := f.reports.Approve(ctx, report.ID, nil, "확인 완료")
	require.NoError(t, err)
	assert.Equal(t, models.ReportResolved, approved.Status)
	assert.Equal(t, DefaultCreditPolicy().ReportSubmit, f.balance(reporter))

	_, err = f.reports.Approve(ctx, report.ID, nil, "")
	assert.ErrorIs(t, err, ErrReportClosed)
	_, err = f.reports.Dismiss(ctx, report.ID, "")
	assert.ErrorIs(t, err, ErrReportClosed)
	assert.Equal(t, DefaultCreditPolicy().ReportSubmit, f.balance(reporter))
	f.requireReconciled(reporter)
}

func TestReportService_ApproveCustomCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	reporter := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	report, err := f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
	require.NoError(t, err)

	negative := -1
	_, err = f.reports.Approve(ctx, report.ID, &negative, "")
	assert.ErrorIs(t, err, ErrValidation)

	custom := 7
	_, err = f.reports.Approve(ctx, report.ID, &custom, "")
	require.NoError(t, err)
	assert.Equal(t, 7, f.balance(reporter))
}

func TestReportService_Dismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	reporter := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	report, err := f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
	require.NoError(t, err)

	dismissed, err := f.reports.Dismiss(ctx, report.ID, "확인 불가")
	require.NoError(t, err)
	assert.Equal(t, models.ReportDismissed, dismissed.Status)
	assert.Equal(t, "확인 불가", dismissed.AdminNote)
	assert.Equal(t, 0, f.balance(reporter))

	_, err = f.reports.Dismiss(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportService_ResolveOwnerRequestBansAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 100)
	admin := f.user(models.RoleAdmin, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	report, err := f.reports.Submit(ctx, owner, f.reportInput(toilet.ID))
	require.NoError(t, err)

	require.NoError(t, f.reports.ResolveOwnerRequest(ctx, admin.ID, report.ID))

	_, err = f.toilets.Get(ctx, toilet.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 100-DefaultCreditPolicy().ToiletSubmit, f.balance(owner))

	banned, err := f.toilets.IsAddressBanned(ctx, toilet.Address)
	require.NoError(t, err)
	assert.True(t, banned)

	var stored models.Report
	require.NoError(t, f.db.First(&stored, "id = ?", report.ID).Error)
	assert.Equal(t, models.ReportResolved, stored.Status, "the handled report survives the cascade")
}

func TestReportService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")
	for i := 0; i < 2; i++ {
		_, err := f.reports.Submit(ctx, f.user(models.RoleUser, 0), f.reportInput(toilet.ID))
		require.NoError(t, err)
	}
	reports, _, err := f.reports.List(ctx, models.ReportPending, 10, 0)
	require.NoError(t, err)
	_, err = f.reports.Dismiss(ctx, reports[0].ID, "")
	require.NoError(t, err)

	pending, total, err := f.reports.List(ctx, models.ReportPending, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, pending, 1)

	_, total, err = f.reports.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestReportService_ConcurrentDuplicateSubmitsCreateOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(models.RoleUser, 0)
	reporter := f.user(models.RoleUser, 0)
	toilet := f.toilet(owner, models.VisibilityShared, "1")

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = f.reports.Submit(ctx, reporter, f.reportInput(toilet.ID))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrDuplicateAction)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	var n int64
	require.NoError(t, f.db.Model(&models.Report{}).Where("reporter_id = ?", reporter.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}
