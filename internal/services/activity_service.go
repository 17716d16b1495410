package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity score deltas per action.
const (
	ScoreToiletAdded    = 3.0
	ScoreReviewAdded    = 0.8
	ScoreReportApproved = 1.0
	ScoreReportRejected = -0.2
	ScoreReviewDeleted  = -0.5
	ScoreReferral       = 3.0
)

var levelThresholds = []float64{10, 30, 60, 100, 200, 400}

// LevelFor maps an activity score onto levels 0..6.
func LevelFor(score float64) int {
	level := 0
	for i, t := range levelThresholds {
		if score >= t {
			level = i + 1
		}
	}
	return level
}

type ActivityService struct {
	db       *gorm.DB
	ledger   *Ledger
	policy   *PolicyService
	settings *SettingsService
	notifier *NotificationService
}

func NewActivityService(db *gorm.DB, ledger *Ledger, policy *PolicyService, settings *SettingsService, notifier *NotificationService) *ActivityService {
	return &ActivityService{db: db, ledger: ledger, policy: policy, settings: settings, notifier: notifier}
}

// AddScore moves the activity score, recomputes the level and pays the level
// up reward. Closed accounts are skipped.
func (s *ActivityService) AddScore(ctx context.Context, userID uuid.UUID, delta float64, reason string) error {
	policy := s.policy.Get(ctx)
	var oldLevel, newLevel int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := lockRows(tx).Unscoped().First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if user.IsTerminal() {
			return ErrTerminalUser
		}

		score := user.ActivityScore + delta
		if score < 0 {
			score = 0
		}
		oldLevel = user.Level
		newLevel = LevelFor(score)
		if user.LevelOverride != nil {
			newLevel = *user.LevelOverride
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"activity_score": score,
			"level":          newLevel,
		}).Error; err != nil {
			return err
		}

		if _, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        userID,
			Amount:        0,
			Type:          models.TxScoreChange,
			ReferenceType: "activity",
			ReferenceID:   reason,
			Description:   fmt.Sprintf("활동 점수 %+.1f (%s)", delta, reason),
		}); err != nil {
			return err
		}

		if newLevel > oldLevel && user.LevelOverride == nil {
			_, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        userID,
				Amount:        policy.LevelUpReward,
				Type:          models.TxOther,
				ReferenceType: "level",
				ReferenceID:   strconv.Itoa(newLevel),
				Description:   fmt.Sprintf("레벨업 축하금 (Lv.%d)", newLevel),
			})
			return err
		}
		return nil
	})
	if errors.Is(err, ErrTerminalUser) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add activity score: %w", err)
	}

	if newLevel > oldLevel && s.notifier != nil {
		tpl := s.settings.Text(ctx, SettingMsgLevelUp, settingDefaults[SettingMsgLevelUp].value)
		msg := Template(tpl, map[string]string{
			"old":    "Lv." + strconv.Itoa(oldLevel),
			"new":    "Lv." + strconv.Itoa(newLevel),
			"reward": strconv.Itoa(policy.LevelUpReward),
		})
		s.notifier.Notify(ctx, models.NotifyLevelUp, userID, "레벨업!", msg, map[string]string{
			"level": strconv.Itoa(newLevel),
		})
	}
	return nil
}

// recordActivity is the best-effort form used after a primary action has
// committed.
func (s *ActivityService) recordActivity(ctx context.Context, userID uuid.UUID, delta float64, reason string) {
	if s == nil {
		return
	}
	if err := s.AddScore(ctx, userID, delta, reason); err != nil {
		slog.Warn("activity score update failed", "user_id", userID.String(), "reason", reason, "error", err)
	}
}
