package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrReportClosed = errors.New("report already handled")

type SubmitReport struct {
	ToiletID  uuid.UUID
	Reason    string
	StartedAt time.Time
	Pasted    bool
}

type ReportService struct {
	db       *gorm.DB
	guard    *abuse.Guard
	ledger   *Ledger
	policy   *PolicyService
	settings *SettingsService
	notifier *NotificationService
	activity *ActivityService
	toilets  *ToiletService
	loc      *time.Location
	now      func() time.Time
}

func NewReportService(db *gorm.DB, guard *abuse.Guard, ledger *Ledger, policy *PolicyService, settings *SettingsService,
	notifier *NotificationService, activity *ActivityService, toilets *ToiletService, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		db: db, guard: guard, ledger: ledger, policy: policy, settings: settings,
		notifier: notifier, activity: activity, toilets: toilets, loc: loc, now: time.Now,
	}
}

// Submit files a pending report and tells the content owner.
func (s *ReportService) Submit(ctx context.Context, actor *models.User, in SubmitReport) (*models.Report, error) {
	if actor.Role == models.RoleGuest {
		return nil, ErrForbidden
	}
	now := s.now()

	if err := s.guard.CheckInput(in.Pasted); err != nil {
		return nil, classify(err)
	}
	if err := s.guard.CheckDwell(abuse.KindReport, in.StartedAt, now); err != nil {
		return nil, classify(err)
	}
	if err := s.guard.ValidateContent(in.Reason).Err(); err != nil {
		return nil, classify(err)
	}

	toilet, err := s.toilets.Get(ctx, in.ToiletID)
	if err != nil {
		return nil, err
	}

	report := models.Report{
		ToiletID:   toilet.ID,
		ReporterID: actor.ID,
		Reason:     strings.TrimSpace(in.Reason),
		Status:     models.ReportPending,
		CreatedAt:  now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActor(tx, actor.ID); err != nil {
			return err
		}

		var today int64
		if err := tx.Model(&models.Report{}).
			Where("reporter_id = ? AND created_at >= ?", actor.ID, abuse.StartOfLocalDay(now, s.loc)).
			Count(&today).Error; err != nil {
			return err
		}
		if err := s.guard.CheckDailyQuota(abuse.KindReport, actor.IsPrivileged(), today); err != nil {
			return classify(err)
		}

		var recent int64
		if err := tx.Model(&models.Report{}).
			Where("reporter_id = ? AND toilet_id = ? AND created_at >= ?", actor.ID, toilet.ID, s.guard.DuplicateSince(now)).
			Count(&recent).Error; err != nil {
			return err
		}
		if err := s.guard.CheckRecentDuplicate(recent > 0, false); err != nil {
			return classify(err)
		}

		if err := tx.Create(&report).Error; err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if toilet.OwnerID != actor.ID {
		tpl := s.settings.Text(ctx, SettingMsgReportReceived, settingDefaults[SettingMsgReportReceived].value)
		s.notifier.Notify(ctx, models.NotifyToiletReported, toilet.OwnerID, "신고 접수",
			Template(tpl, map[string]string{"name": toilet.Name, "reason": report.Reason}),
			map[string]string{"toiletId": toilet.ID.String(), "reportId": report.ID.String()})
	}
	return &report, nil
}

func (s *ReportService) List(ctx context.Context, status string, limit, offset int) ([]models.Report, int64, error) {
	var reports []models.Report
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Report{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reports).Error; err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

// Approve resolves a report and rewards the reporter with reportSubmit, or
// customCredit when given.
func (s *ReportService) Approve(ctx context.Context, reportID uuid.UUID, customCredit *int, note string) (*models.Report, error) {
	policy := s.policy.Get(ctx)
	amount := policy.ReportSubmit
	if customCredit != nil {
		if *customCredit < 0 {
			return nil, fmt.Errorf("%w: credit must not be negative", ErrValidation)
		}
		amount = *customCredit
	}

	report, err := s.close(ctx, reportID, models.ReportResolved, note, func(tx *gorm.DB, r *models.Report) error {
		if amount == 0 {
			return nil
		}
		_, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        r.ReporterID,
			Amount:        amount,
			Type:          models.TxOther,
			ReferenceType: "report",
			ReferenceID:   r.ID.String(),
			Description:   "신고 승인 보상",
		})
		if errors.Is(err, ErrTerminalUser) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, models.NotifyCreditAwarded, report.ReporterID, "신고 승인",
		"신고가 승인되어 "+strconv.Itoa(amount)+"크래딧이 지급되었습니다.",
		map[string]string{"reportId": report.ID.String(), "amount": strconv.Itoa(amount)})
	s.activity.recordActivity(ctx, report.ReporterID, ScoreReportApproved, "report_approved")
	return report, nil
}

// Dismiss closes a report without reward.
func (s *ReportService) Dismiss(ctx context.Context, reportID uuid.UUID, note string) (*models.Report, error) {
	report, err := s.close(ctx, reportID, models.ReportDismissed, note, nil)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, models.NotifyReportResult, report.ReporterID, "신고 처리 결과",
		"신고하신 내용이 검토 후 반려되었습니다.",
		map[string]string{"reportId": report.ID.String()})
	s.activity.recordActivity(ctx, report.ReporterID, ScoreReportRejected, "report_dismissed")
	return report, nil
}

// ResolveOwnerRequest handles a deletion request by the content owner: the
// address is banned and the content removed with the usual cascade.
func (s *ReportService) ResolveOwnerRequest(ctx context.Context, adminID, reportID uuid.UUID) error {
	policy := s.policy.Get(ctx)
	_, err := s.close(ctx, reportID, models.ReportResolved, "소유자 요청으로 삭제", func(tx *gorm.DB, r *models.Report) error {
		return s.toilets.banTx(tx, adminID, r.ToiletID, r.Reason, policy)
	})
	return err
}

func (s *ReportService) close(ctx context.Context, reportID uuid.UUID, status, note string, effect func(*gorm.DB, *models.Report) error) (*models.Report, error) {
	var report models.Report
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRows(tx).First(&report, "id = ?", reportID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if report.Status != models.ReportPending {
			return ErrReportClosed
		}
		if err := tx.Model(&models.Report{}).Where("id = ?", report.ID).Updates(map[string]interface{}{
			"status":     status,
			"admin_note": note,
		}).Error; err != nil {
			return err
		}
		report.Status = status
		report.AdminNote = note
		if effect != nil {
			return effect(tx, &report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("report closed", "report_id", report.ID.String(), "status", status)
	return &report, nil
}
