package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
)

type AdPurpose string

const (
	AdPurposeUnlock AdPurpose = "unlock"
	AdPurposeReview AdPurpose = "review"
	AdPurposeCredit AdPurpose = "credit"
)

// AdSession is a rewarded ad the user was sent to watch. It is redeemed
// exactly once, by the provider's server-side completion callback.
type AdSession struct {
	ID          string    `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Purpose     AdPurpose `json:"purpose"`
	ReferenceID string    `json:"reference_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdSessionStore keeps pending sessions. Take removes and returns a session
// atomically, returning nil when it does not exist.
type AdSessionStore interface {
	Put(ctx context.Context, s AdSession, ttl time.Duration) error
	Take(ctx context.Context, id string) (*AdSession, error)
}

// AdCompletionHandler redeems a completed session for one purpose.
type AdCompletionHandler func(ctx context.Context, s AdSession) error

type AdService struct {
	store    AdSessionStore
	ttl      time.Duration
	ledger   *Ledger
	policy   *PolicyService
	handlers map[AdPurpose]AdCompletionHandler
	now      func() time.Time
}

func NewAdService(store AdSessionStore, ttl time.Duration, ledger *Ledger, policy *PolicyService) *AdService {
	a := &AdService{
		store:    store,
		ttl:      ttl,
		ledger:   ledger,
		policy:   policy,
		handlers: make(map[AdPurpose]AdCompletionHandler),
		now:      time.Now,
	}
	a.Handle(AdPurposeCredit, a.rewardView)
	return a
}

// Handle registers the redemption for a purpose.
func (a *AdService) Handle(p AdPurpose, h AdCompletionHandler) {
	a.handlers[p] = h
}

// Begin opens a session for the user to watch an ad.
func (a *AdService) Begin(ctx context.Context, userID uuid.UUID, purpose AdPurpose, referenceID string) (*AdSession, error) {
	if _, ok := a.handlers[purpose]; !ok {
		return nil, fmt.Errorf("%w: unknown ad purpose %q", ErrValidation, purpose)
	}
	s := AdSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Purpose:     purpose,
		ReferenceID: referenceID,
		CreatedAt:   a.now(),
	}
	if err := a.store.Put(ctx, s, a.ttl); err != nil {
		return nil, fmt.Errorf("%w: store ad session: %v", ErrProviderFailure, err)
	}
	return &s, nil
}

// Complete redeems a session. Unknown or already redeemed sessions return
// ErrAdSessionUnknown. A failed redemption puts the session back so the
// provider's retry can succeed.
func (a *AdService) Complete(ctx context.Context, sessionID string) (*AdSession, error) {
	s, err := a.store.Take(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load ad session: %v", ErrProviderFailure, err)
	}
	if s == nil {
		return nil, ErrAdSessionUnknown
	}

	h, ok := a.handlers[s.Purpose]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ad purpose %q", ErrValidation, s.Purpose)
	}
	if err := h(ctx, *s); err != nil {
		if remaining := a.ttl - a.now().Sub(s.CreatedAt); remaining > 0 {
			if perr := a.store.Put(ctx, *s, remaining); perr != nil {
				slog.Error("failed to restore ad session", "session_id", s.ID, "error", perr)
			}
		}
		return nil, err
	}

	slog.Info("ad session redeemed", "user_id", s.UserID.String(), "purpose", string(s.Purpose), "session_id", s.ID)
	return s, nil
}

func (a *AdService) rewardView(ctx context.Context, s AdSession) error {
	_, err := a.ledger.Apply(ctx, Entry{
		UserID:        s.UserID,
		Amount:        a.policy.Get(ctx).AdView,
		Type:          models.TxVideoReward,
		ReferenceType: "ad",
		ReferenceID:   s.ID,
		Description:   "광고 시청 보상",
	})
	return err
}
