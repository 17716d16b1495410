package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReminderCanceller drops a pending review reminder once the review exists.
type ReminderCanceller interface {
	CancelReviewReminder(ctx context.Context, userID, toiletID uuid.UUID) error
}

type SubmitReview struct {
	ToiletID  uuid.UUID
	Rating    int
	Text      string
	StartedAt time.Time
	Pasted    bool
	// EditReviewID marks the submission as an edit of the actor's own review.
	EditReviewID *uuid.UUID
}

type ReviewService struct {
	db        *gorm.DB
	guard     *abuse.Guard
	ledger    *Ledger
	policy    *PolicyService
	settings  *SettingsService
	notifier  *NotificationService
	activity  *ActivityService
	ads       *AdService
	reminders ReminderCanceller
	loc       *time.Location
	now       func() time.Time
}

func NewReviewService(db *gorm.DB, guard *abuse.Guard, ledger *Ledger, policy *PolicyService, settings *SettingsService,
	notifier *NotificationService, activity *ActivityService, ads *AdService, loc *time.Location) *ReviewService {
	if loc == nil {
		loc = time.UTC
	}
	s := &ReviewService{
		db: db, guard: guard, ledger: ledger, policy: policy, settings: settings,
		notifier: notifier, activity: activity, ads: ads, loc: loc, now: time.Now,
	}
	if ads != nil {
		ads.Handle(AdPurposeReview, s.redeemAd)
	}
	return s
}

// SetReminderCanceller wires the device reminder registry.
func (s *ReviewService) SetReminderCanceller(rc ReminderCanceller) {
	s.reminders = rc
}

// Submit validates and stores a review. Privileged users are rewarded
// immediately; everyone else is rewarded through ConfirmAdReward.
func (s *ReviewService) Submit(ctx context.Context, actor *models.User, in SubmitReview) (*models.Review, error) {
	if actor.Role == models.RoleGuest {
		return nil, ErrForbidden
	}
	now := s.now()

	if err := s.guard.CheckInput(in.Pasted); err != nil {
		return nil, classify(err)
	}
	if err := s.guard.CheckDwell(abuse.KindReview, in.StartedAt, now); err != nil {
		return nil, classify(err)
	}
	if err := s.guard.ValidateContent(in.Text).Err(); err != nil {
		return nil, classify(err)
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	var toilet models.Toilet
	if err := s.db.WithContext(ctx).First(&toilet, "id = ?", in.ToiletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if in.EditReviewID != nil {
		return s.edit(ctx, actor, *in.EditReviewID, in)
	}

	policy := s.policy.Get(ctx)
	review := models.Review{
		ToiletID:  toilet.ID,
		UserID:    actor.ID,
		Rating:    in.Rating,
		Text:      in.Text,
		Rewarded:  actor.IsPrivileged(),
		CreatedAt: now,
	}
	ownerReward := toilet.OwnerID != actor.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActor(tx, actor.ID); err != nil {
			return err
		}

		var today int64
		if err := tx.Model(&models.Review{}).
			Where("user_id = ? AND created_at >= ?", actor.ID, abuse.StartOfLocalDay(now, s.loc)).
			Count(&today).Error; err != nil {
			return err
		}
		if err := s.guard.CheckDailyQuota(abuse.KindReview, actor.IsPrivileged(), today); err != nil {
			return classify(err)
		}

		var recent int64
		if err := tx.Model(&models.Review{}).
			Where("user_id = ? AND toilet_id = ? AND created_at >= ?", actor.ID, toilet.ID, s.guard.DuplicateSince(now)).
			Count(&recent).Error; err != nil {
			return err
		}
		if err := s.guard.CheckRecentDuplicate(recent > 0, false); err != nil {
			return classify(err)
		}

		if err := tx.Create(&review).Error; err != nil {
			return fmt.Errorf("failed to create review: %w", err)
		}
		if review.Rewarded {
			if _, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        actor.ID,
				Amount:        policy.ReviewSubmit,
				Type:          models.TxReview,
				ReferenceType: "review",
				ReferenceID:   review.ID.String(),
				Description:   "리뷰 작성: " + toilet.Name,
			}); err != nil {
				return err
			}
		}
		if ownerReward {
			if _, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        toilet.OwnerID,
				Amount:        policy.OwnerReviewReward,
				Type:          models.TxOther,
				ReferenceType: "review",
				ReferenceID:   review.ID.String(),
				Description:   "내 화장실에 리뷰 등록: " + toilet.Name,
			}); err != nil && !errors.Is(err, ErrTerminalUser) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("review submitted", "user_id", actor.ID.String(), "toilet_id", toilet.ID.String(), "rewarded", review.Rewarded)

	if ownerReward {
		tpl := s.settings.Text(ctx, SettingMsgReviewReceived, settingDefaults[SettingMsgReviewReceived].value)
		s.notifier.Notify(ctx, models.NotifyReviewAdded, toilet.OwnerID, "새로운 리뷰",
			Template(tpl, map[string]string{"name": toilet.Name}),
			map[string]string{"toiletId": toilet.ID.String(), "reviewId": review.ID.String()})
	}
	s.activity.recordActivity(ctx, actor.ID, ScoreReviewAdded, "review_add")
	if s.reminders != nil {
		if err := s.reminders.CancelReviewReminder(ctx, actor.ID, toilet.ID); err != nil {
			slog.Warn("review reminder cancel failed", "user_id", actor.ID.String(), "toilet_id", toilet.ID.String(), "error", err)
		}
	}
	return &review, nil
}

func (s *ReviewService) edit(ctx context.Context, actor *models.User, reviewID uuid.UUID, in SubmitReview) (*models.Review, error) {
	var review models.Review
	if err := s.db.WithContext(ctx).First(&review, "id = ?", reviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if review.UserID != actor.ID || review.ToiletID != in.ToiletID {
		return nil, ErrForbidden
	}
	review.Rating = in.Rating
	review.Text = in.Text
	if err := s.db.WithContext(ctx).Save(&review).Error; err != nil {
		return nil, fmt.Errorf("failed to update review: %w", err)
	}
	return &review, nil
}

// RequestAdReward opens an ad session whose completion pays the reward for an
// unrewarded review.
func (s *ReviewService) RequestAdReward(ctx context.Context, actor *models.User, reviewID uuid.UUID) (*AdSession, error) {
	var review models.Review
	if err := s.db.WithContext(ctx).First(&review, "id = ?", reviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if review.UserID != actor.ID {
		return nil, ErrForbidden
	}
	if review.Rewarded {
		return nil, ErrDuplicateAction
	}
	return s.ads.Begin(ctx, actor.ID, AdPurposeReview, review.ID.String())
}

func (s *ReviewService) redeemAd(ctx context.Context, session AdSession) error {
	reviewID, err := uuid.Parse(session.ReferenceID)
	if err != nil {
		return fmt.Errorf("%w: bad review reference", ErrValidation)
	}
	return s.ConfirmAdReward(ctx, session.UserID, reviewID)
}

// ConfirmAdReward pays the review reward after a verified ad view. Repeat
// confirmations for the same review are ignored.
func (s *ReviewService) ConfirmAdReward(ctx context.Context, userID, reviewID uuid.UUID) error {
	policy := s.policy.Get(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var review models.Review
		if err := lockRows(tx).First(&review, "id = ?", reviewID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if review.UserID != userID {
			return ErrForbidden
		}
		if review.Rewarded {
			return nil
		}
		if err := tx.Model(&models.Review{}).Where("id = ?", review.ID).Update("rewarded", true).Error; err != nil {
			return err
		}
		_, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        userID,
			Amount:        policy.ReviewSubmit,
			Type:          models.TxReview,
			ReferenceType: "review",
			ReferenceID:   review.ID.String(),
			Description:   "광고 시청 리뷰 보상",
		})
		return err
	})
}

// Delete removes a review. The reward is reversed only when it was paid.
func (s *ReviewService) Delete(ctx context.Context, actor *models.User, reviewID uuid.UUID) error {
	policy := s.policy.Get(ctx)
	var review models.Review
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRows(tx).First(&review, "id = ?", reviewID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if review.UserID != actor.ID && !actor.IsAdmin() {
			return ErrForbidden
		}
		if err := tx.Delete(&review).Error; err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}
		if !review.Rewarded {
			return nil
		}
		_, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        review.UserID,
			Amount:        -policy.ReviewSubmit,
			Type:          models.TxReportPenalty,
			ReferenceType: "review",
			ReferenceID:   review.ID.String(),
			Description:   "리뷰 삭제",
		})
		if errors.Is(err, ErrTerminalUser) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if actor.IsAdmin() && review.UserID != actor.ID {
		s.activity.recordActivity(ctx, review.UserID, ScoreReviewDeleted, "review_deleted_by_admin")
	}
	return nil
}

// HasReviewed reports whether the user has any review of the toilet.
func (s *ReviewService) HasReviewed(ctx context.Context, userID, toiletID uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("user_id = ? AND toilet_id = ?", userID, toiletID).Count(&n).Error
	return n > 0, err
}

// ListForToilet returns a toilet's reviews, newest first.
func (s *ReviewService) ListForToilet(ctx context.Context, toiletID uuid.UUID, limit, offset int) ([]models.Review, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&models.Review{}).Where("toilet_id = ?", toiletID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var reviews []models.Review
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reviews).Error; err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}
