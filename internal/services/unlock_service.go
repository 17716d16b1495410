package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UnlockMethod string

const (
	UnlockWithCredit UnlockMethod = "credit"
	UnlockWithAd     UnlockMethod = "ad"
)

// GrantStore holds time-boxed reveal permissions per (user, toilet).
type GrantStore interface {
	Put(ctx context.Context, userID, toiletID uuid.UUID, expiresAt time.Time) error
	ExpiresAt(ctx context.Context, userID, toiletID uuid.UUID) (time.Time, bool, error)
	Revoke(ctx context.Context, userID, toiletID uuid.UUID) error
}

type UnlockResult struct {
	Granted     bool       `json:"granted"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AdSessionID string     `json:"ad_session_id,omitempty"`
	Bypass      bool       `json:"bypass"`
	// AdAvailable is set when credits were short so the client can offer the ad.
	AdAvailable bool `json:"ad_available,omitempty"`
}

type UnlockService struct {
	db       *gorm.DB
	ledger   *Ledger
	policy   *PolicyService
	grants   GrantStore
	ads      *AdService
	ttl      time.Duration
	timeout  time.Duration
	inflight *keyLocks
	now      func() time.Time
}

func NewUnlockService(db *gorm.DB, ledger *Ledger, policy *PolicyService, grants GrantStore, ads *AdService, ttl, timeout time.Duration) *UnlockService {
	s := &UnlockService{
		db:       db,
		ledger:   ledger,
		policy:   policy,
		grants:   grants,
		ads:      ads,
		ttl:      ttl,
		timeout:  timeout,
		inflight: newKeyLocks(),
		now:      time.Now,
	}
	if ads != nil {
		ads.Handle(AdPurposeUnlock, s.redeemAd)
	}
	return s
}

// CanReveal decides whether user may see toilet's secret. grantExpiry is only
// consulted when hasGrant is true.
func CanReveal(user *models.User, toilet *models.Toilet, grantExpiry time.Time, hasGrant bool, now time.Time) bool {
	if !toilet.Secured {
		return true
	}
	if user == nil {
		return false
	}
	if toilet.OwnerID == user.ID || user.IsPrivileged() {
		return true
	}
	return hasGrant && now.Before(grantExpiry)
}

func bypasses(user *models.User, toilet *models.Toilet) bool {
	return !toilet.Secured || toilet.OwnerID == user.ID || user.IsPrivileged()
}

// Reveal returns the secret when the viewer is allowed to see it.
func (s *UnlockService) Reveal(ctx context.Context, user *models.User, toiletID uuid.UUID) (string, error) {
	toilet, err := s.loadToilet(ctx, toiletID)
	if err != nil {
		return "", err
	}
	exp, ok, err := s.grants.ExpiresAt(ctx, user.ID, toilet.ID)
	if err != nil {
		return "", fmt.Errorf("%w: grant lookup: %v", ErrProviderFailure, err)
	}
	if !CanReveal(user, toilet, exp, ok, s.now()) {
		return "", ErrForbidden
	}
	return toilet.SecretValue, nil
}

// RequestUnlock grants user temporary access to toilet's secret by paying
// unlockCost or by starting an ad session.
func (s *UnlockService) RequestUnlock(ctx context.Context, user *models.User, toiletID uuid.UUID, method UnlockMethod) (*UnlockResult, error) {
	if user.IsTerminal() {
		return nil, ErrTerminalUser
	}
	if method != UnlockWithCredit && method != UnlockWithAd {
		return nil, fmt.Errorf("%w: unknown unlock method %q", ErrValidation, method)
	}

	key := grantKey(user.ID, toiletID)
	if !s.inflight.TryAcquire(key) {
		return nil, ErrUnlockInFlight
	}
	defer s.inflight.Release(key)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	toilet, err := s.loadToilet(ctx, toiletID)
	if err != nil {
		return nil, err
	}
	if bypasses(user, toilet) {
		return &UnlockResult{Granted: true, Bypass: true}, nil
	}

	now := s.now()
	if exp, ok, err := s.grants.ExpiresAt(ctx, user.ID, toilet.ID); err != nil {
		return nil, fmt.Errorf("%w: grant lookup: %v", ErrProviderFailure, err)
	} else if ok && now.Before(exp) {
		return &UnlockResult{Granted: true, ExpiresAt: &exp}, nil
	}

	if method == UnlockWithAd {
		session, err := s.ads.Begin(ctx, user.ID, AdPurposeUnlock, toilet.ID.String())
		if err != nil {
			return nil, err
		}
		return &UnlockResult{AdSessionID: session.ID}, nil
	}

	policy := s.policy.Get(ctx)
	var ownerPaid bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        user.ID,
			Amount:        -policy.UnlockCost,
			Type:          models.TxToiletUnlock,
			ReferenceType: "toilet",
			ReferenceID:   toilet.ID.String(),
			Description:   "화장실 비밀번호 열람",
			RequireFunds:  true,
		}); err != nil {
			return err
		}
		paid, err := s.rewardOwner(tx, toilet, policy)
		ownerPaid = paid
		return err
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return &UnlockResult{AdAvailable: true}, err
	}
	if err != nil {
		return nil, err
	}

	// The grant is written only after the charge commits.
	expiresAt := now.Add(s.ttl)
	if err := s.grants.Put(ctx, user.ID, toilet.ID, expiresAt); err != nil {
		s.compensate(ctx, user.ID, toilet, policy.UnlockCost, ownerPaid, policy)
		return nil, fmt.Errorf("%w: store grant: %v", ErrProviderFailure, err)
	}

	slog.Info("toilet unlocked", "user_id", user.ID.String(), "toilet_id", toilet.ID.String(), "method", string(method))
	return &UnlockResult{Granted: true, ExpiresAt: &expiresAt}, nil
}

func (s *UnlockService) redeemAd(ctx context.Context, session AdSession) error {
	toiletID, err := uuid.Parse(session.ReferenceID)
	if err != nil {
		return fmt.Errorf("%w: bad toilet reference", ErrValidation)
	}
	toilet, err := s.loadToilet(ctx, toiletID)
	if err != nil {
		return err
	}

	policy := s.policy.Get(ctx)
	var ownerPaid bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        session.UserID,
			Amount:        policy.AdView,
			Type:          models.TxAdReward,
			ReferenceType: "ad",
			ReferenceID:   session.ID,
			Description:   "광고 시청 보상",
		}); err != nil {
			return err
		}
		if _, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        session.UserID,
			Amount:        -policy.AdView,
			Type:          models.TxToiletUnlock,
			ReferenceType: "toilet",
			ReferenceID:   toilet.ID.String(),
			Description:   "광고 시청으로 비밀번호 열람",
		}); err != nil {
			return err
		}
		paid, err := s.rewardOwner(tx, toilet, policy)
		ownerPaid = paid
		return err
	})
	if err != nil {
		return err
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.grants.Put(ctx, session.UserID, toilet.ID, expiresAt); err != nil {
		// The viewer's entries net to zero; only the owner reward is taken back.
		s.compensate(ctx, session.UserID, toilet, 0, ownerPaid, policy)
		return fmt.Errorf("%w: store grant: %v", ErrProviderFailure, err)
	}
	return nil
}

// compensate reverses a committed unlock whose grant could not be stored.
func (s *UnlockService) compensate(ctx context.Context, userID uuid.UUID, toilet *models.Toilet, refund int, ownerPaid bool, policy CreditPolicy) {
	ctx = context.WithoutCancel(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if refund > 0 {
			if _, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        userID,
				Amount:        refund,
				Type:          models.TxToiletUnlock,
				ReferenceType: "toilet",
				ReferenceID:   toilet.ID.String(),
				Description:   "비밀번호 열람 실패 환불",
			}); err != nil {
				return err
			}
		}
		if ownerPaid {
			if _, err := s.ledger.ApplyTx(tx, Entry{
				UserID:        toilet.OwnerID,
				Amount:        -policy.OwnerUnlockReward,
				Type:          models.TxToiletUnlock,
				ReferenceType: "toilet",
				ReferenceID:   toilet.ID.String(),
				Description:   "비밀번호 열람 취소",
			}); err != nil && !errors.Is(err, ErrTerminalUser) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to compensate unlock charge",
			"user_id", userID.String(), "toilet_id", toilet.ID.String(), "refund", refund, "error", err)
	}
}

// rewardOwner credits the owner for an unlock and reports whether it paid.
// Closed owner accounts are skipped.
func (s *UnlockService) rewardOwner(tx *gorm.DB, toilet *models.Toilet, policy CreditPolicy) (bool, error) {
	_, err := s.ledger.ApplyTx(tx, Entry{
		UserID:        toilet.OwnerID,
		Amount:        policy.OwnerUnlockReward,
		Type:          models.TxToiletUnlock,
		ReferenceType: "toilet",
		ReferenceID:   toilet.ID.String(),
		Description:   "내 화장실 비밀번호 열람 보상",
	})
	if errors.Is(err, ErrTerminalUser) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *UnlockService) loadToilet(ctx context.Context, id uuid.UUID) (*models.Toilet, error) {
	var t models.Toilet
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
