package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/geo"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ToiletInput struct {
	Name        string
	Address     string
	Lat         float64
	Lng         float64
	Visibility  string
	SecretValue string
	Note        string
}

// ToiletUpdate carries the fields to change; nil means unchanged.
type ToiletUpdate struct {
	Name        *string
	Address     *string
	Lat         *float64
	Lng         *float64
	Visibility  *string
	SecretValue *string
	Note        *string
}

// NearbyToilet is a search hit with its distance from the query point.
type NearbyToilet struct {
	models.Toilet
	DistanceKm float64 `json:"distance_km"`
}

// ToiletService owns content records and their visibility side effects.
type ToiletService struct {
	db       *gorm.DB
	ledger   *Ledger
	policy   *PolicyService
	notifier *NotificationService
	activity *ActivityService
	now      func() time.Time
}

func NewToiletService(db *gorm.DB, ledger *Ledger, policy *PolicyService, notifier *NotificationService, activity *ActivityService) *ToiletService {
	return &ToiletService{db: db, ledger: ledger, policy: policy, notifier: notifier, activity: activity, now: time.Now}
}

func (s *ToiletService) Get(ctx context.Context, id uuid.UUID) (*models.Toilet, error) {
	var t models.Toilet
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// IsAddressBanned reports whether address matches any banned location.
func (s *ToiletService) IsAddressBanned(ctx context.Context, address string) (bool, error) {
	var banned []string
	if err := s.db.WithContext(ctx).Model(&models.BannedLocation{}).Pluck("address", &banned).Error; err != nil {
		return false, fmt.Errorf("load banned locations: %w", err)
	}
	for _, b := range banned {
		if AddressMatchesBan(address, b) {
			return true, nil
		}
	}
	return false, nil
}

// Create registers new content. Shared content earns the owner toiletSubmit
// in the same transaction.
func (s *ToiletService) Create(ctx context.Context, actor *models.User, in ToiletInput) (*models.Toilet, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Address) == "" {
		return nil, fmt.Errorf("%w: name and address are required", ErrValidation)
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPrivate
	}
	if !models.ValidVisibility(in.Visibility) {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrValidation, in.Visibility)
	}
	if in.Visibility == models.VisibilityPublicData && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	banned, err := s.IsAddressBanned(ctx, in.Address)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrAddressBanned
	}

	policy := s.policy.Get(ctx)
	toilet := models.Toilet{
		OwnerID:     actor.ID,
		Name:        strings.TrimSpace(in.Name),
		Address:     strings.TrimSpace(in.Address),
		Lat:         in.Lat,
		Lng:         in.Lng,
		Visibility:  in.Visibility,
		SecretValue: strings.TrimSpace(in.SecretValue),
		Note:        in.Note,
	}
	if CreationEffect(toilet.Visibility) == EffectEarn {
		toilet.ShareCount = 1
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&toilet).Error; err != nil {
			return fmt.Errorf("failed to create toilet: %w", err)
		}
		if CreationEffect(toilet.Visibility) == EffectEarn {
			_, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        actor.ID,
				Amount:        policy.ToiletSubmit,
				Type:          models.TxToiletRegister,
				ReferenceType: "toilet",
				ReferenceID:   toilet.ID.String(),
				Description:   "화장실 공유 등록: " + toilet.Name,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("toilet created", "user_id", actor.ID.String(), "toilet_id", toilet.ID.String(), "visibility", toilet.Visibility)
	s.activity.recordActivity(ctx, actor.ID, ScoreToiletAdded, "toilet_add")
	return &toilet, nil
}

// Update edits content. A private to shared transition pays toiletSubmit
// once; owner edits also resolve pending reports.
func (s *ToiletService) Update(ctx context.Context, actor *models.User, id uuid.UUID, in ToiletUpdate) (*models.Toilet, error) {
	if in.Address != nil {
		banned, err := s.IsAddressBanned(ctx, *in.Address)
		if err != nil {
			return nil, err
		}
		if banned {
			return nil, ErrAddressBanned
		}
	}

	policy := s.policy.Get(ctx)
	var toilet models.Toilet
	var resolved []models.Report
	ownerEdit := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRows(tx).First(&toilet, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		ownerEdit = toilet.OwnerID == actor.ID
		if !ownerEdit && !actor.IsAdmin() {
			return ErrForbidden
		}

		from := toilet.Visibility
		effect := EffectNone
		if in.Visibility != nil {
			var err error
			effect, err = TransitionEffect(from, *in.Visibility, actor.IsAdmin())
			if err != nil {
				return err
			}
			toilet.Visibility = *in.Visibility
			if effect == EffectEarn {
				toilet.ShareCount++
			}
		}
		if in.Name != nil {
			toilet.Name = strings.TrimSpace(*in.Name)
		}
		if in.Address != nil {
			toilet.Address = strings.TrimSpace(*in.Address)
		}
		if in.Lat != nil {
			toilet.Lat = *in.Lat
		}
		if in.Lng != nil {
			toilet.Lng = *in.Lng
		}
		if in.SecretValue != nil {
			toilet.SecretValue = strings.TrimSpace(*in.SecretValue)
		}
		if in.Note != nil {
			toilet.Note = *in.Note
		}
		if toilet.Name == "" || toilet.Address == "" {
			return fmt.Errorf("%w: name and address are required", ErrValidation)
		}

		if err := tx.Save(&toilet).Error; err != nil {
			return fmt.Errorf("failed to update toilet: %w", err)
		}

		if from == models.VisibilityShared && toilet.Visibility == models.VisibilityPrivate {
			slog.Warn("shared toilet reverted to private without clawback",
				"toilet_id", toilet.ID.String(), "owner_id", toilet.OwnerID.String(), "admin_id", actor.ID.String())
		}

		if effect == EffectEarn {
			paid, err := sharesPaid(tx, &toilet)
			if err != nil {
				return err
			}
			if paid >= int64(toilet.ShareCount) {
				slog.Warn("share reward already recorded", "toilet_id", toilet.ID.String(), "shares", toilet.ShareCount)
			} else if _, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        toilet.OwnerID,
				Amount:        policy.ToiletSubmit,
				Type:          models.TxToiletRegister,
				ReferenceType: "toilet",
				ReferenceID:   toilet.ID.String(),
				Description:   "화장실 공유 전환: " + toilet.Name,
			}); err != nil && !errors.Is(err, ErrTerminalUser) {
				return err
			}
		}

		if ownerEdit {
			if err := tx.Where("toilet_id = ? AND status = ?", toilet.ID, models.ReportPending).
				Find(&resolved).Error; err != nil {
				return err
			}
			if len(resolved) > 0 {
				if err := tx.Model(&models.Report{}).
					Where("toilet_id = ? AND status = ?", toilet.ID, models.ReportPending).
					Updates(map[string]interface{}{
						"status":     models.ReportResolved,
						"admin_note": "작성자 수정으로 자동 해결",
					}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resolved) > 0 {
		s.notifyReporters(ctx, &toilet, resolved)
	}
	return &toilet, nil
}

// sharesPaid counts the share rewards already recorded for t. The toilet row
// must be locked by the caller.
func sharesPaid(tx *gorm.DB, t *models.Toilet) (int64, error) {
	var n int64
	err := tx.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND type = ? AND reference_type = ? AND reference_id = ? AND amount > 0",
			t.OwnerID, models.TxToiletRegister, "toilet", t.ID.String()).
		Count(&n).Error
	return n, err
}

func (s *ToiletService) notifyReporters(ctx context.Context, toilet *models.Toilet, reports []models.Report) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range reports {
		g.Go(func() error {
			s.notifier.Notify(gctx, models.NotifyReportResult, r.ReporterID, "신고 처리 결과",
				"신고하신 '"+toilet.Name+"' 정보가 작성자에 의해 수정되었습니다.",
				map[string]string{"toiletId": toilet.ID.String(), "reportId": r.ID.String()})
			return nil
		})
	}
	_ = g.Wait()
}

// Delete removes content, its reviews and its pending reports. Deleting
// shared content charges the owner toiletSubmit.
func (s *ToiletService) Delete(ctx context.Context, actor *models.User, id uuid.UUID) error {
	policy := s.policy.Get(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var toilet models.Toilet
		if err := lockRows(tx).First(&toilet, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if toilet.OwnerID != actor.ID && !actor.IsAdmin() {
			return ErrForbidden
		}
		return s.deleteTx(tx, &toilet, policy, "공유 화장실 삭제: "+toilet.Name)
	})
}

// BanByOwnerRequest deletes content at its owner's request and bans its
// address from registration.
func (s *ToiletService) BanByOwnerRequest(ctx context.Context, adminID, id uuid.UUID, reason string) error {
	policy := s.policy.Get(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.banTx(tx, adminID, id, reason, policy)
	})
}

func (s *ToiletService) banTx(tx *gorm.DB, adminID, id uuid.UUID, reason string, policy CreditPolicy) error {
	var toilet models.Toilet
	if err := lockRows(tx).First(&toilet, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	ban := models.BannedLocation{
		Address:  toilet.Address,
		Reason:   reason,
		BannedBy: adminID,
		BannedAt: s.now(),
	}
	if err := tx.Create(&ban).Error; err != nil {
		return fmt.Errorf("failed to ban address: %w", err)
	}
	slog.Info("address banned", "toilet_id", toilet.ID.String(), "admin_id", adminID.String())
	return s.deleteTx(tx, &toilet, policy, "소유자 요청으로 삭제: "+toilet.Name)
}

func (s *ToiletService) deleteTx(tx *gorm.DB, toilet *models.Toilet, policy CreditPolicy, description string) error {
	if err := tx.Where("toilet_id = ?", toilet.ID).Delete(&models.Review{}).Error; err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	if err := tx.Where("toilet_id = ? AND status = ?", toilet.ID, models.ReportPending).Delete(&models.Report{}).Error; err != nil {
		return fmt.Errorf("failed to delete pending reports: %w", err)
	}
	if err := tx.Delete(toilet).Error; err != nil {
		return fmt.Errorf("failed to delete toilet: %w", err)
	}

	if DeletionEffect(toilet.Visibility) == EffectPenalty {
		_, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        toilet.OwnerID,
			Amount:        -policy.ToiletSubmit,
			Type:          models.TxReportPenalty,
			ReferenceType: "toilet",
			ReferenceID:   toilet.ID.String(),
			Description:   description,
		})
		if errors.Is(err, ErrTerminalUser) {
			return nil
		}
		return err
	}
	return nil
}

// Nearby returns content within radiusKm, nearest first. Private content is
// only included for its owner. since, when set, limits results to content
// created after it.
func (s *ToiletService) Nearby(ctx context.Context, viewerID uuid.UUID, lat, lng, radiusKm float64, since *time.Time) ([]NearbyToilet, error) {
	box := geo.BoundingBox(lat, lng, radiusKm)
	query := s.db.WithContext(ctx).Model(&models.Toilet{}).
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng).
		Where("visibility <> ? OR owner_id = ?", models.VisibilityPrivate, viewerID)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}

	var rows []models.Toilet
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("nearby query: %w", err)
	}

	hits := make([]NearbyToilet, 0, len(rows))
	for _, t := range rows {
		d := geo.HaversineKm(lat, lng, t.Lat, t.Lng)
		if d <= radiusKm {
			hits = append(hits, NearbyToilet{Toilet: t, DistanceKm: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].DistanceKm < hits[j].DistanceKm })
	return hits, nil
}

// CreatedNearSince counts discoverable content created after since within
// radiusKm. It backs the reminder scheduler's nearby check.
func (s *ToiletService) CreatedNearSince(ctx context.Context, lat, lng, radiusKm float64, since time.Time) (int, error) {
	hits, err := s.Nearby(ctx, uuid.Nil, lat, lng, radiusKm, &since)
	if err != nil {
		return 0, err
	}
	return len(hits), nil
}
