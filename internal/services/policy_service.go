package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const policyCacheTTL = 30 * time.Second

// CreditPolicy is the reward and cost schedule. Zero or missing fields fall
// back to the defaults.
type CreditPolicy struct {
	Signup            int `json:"signup"`
	ToiletSubmit      int `json:"toiletSubmit"`
	ReviewSubmit      int `json:"reviewSubmit"`
	ReportSubmit      int `json:"reportSubmit"`
	PasswordUpdate    int `json:"passwordUpdate"`
	AdView            int `json:"adView"`
	UnlockCost        int `json:"unlockCost"`
	ReferralReward    int `json:"referralReward"`
	OwnerReviewReward int `json:"ownerReviewReward"`
	OwnerUnlockReward int `json:"ownerUnlockReward"`
	LevelUpReward     int `json:"levelUpReward"`
}

func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		Signup:            10,
		ToiletSubmit:      50,
		ReviewSubmit:      10,
		ReportSubmit:      20,
		PasswordUpdate:    3,
		AdView:            1,
		UnlockCost:        5,
		ReferralReward:    20,
		OwnerReviewReward: 1,
		OwnerUnlockReward: 1,
		LevelUpReward:     10,
	}
}

func (p CreditPolicy) withDefaults() CreditPolicy {
	d := DefaultCreditPolicy()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&p.Signup, d.Signup)
	fill(&p.ToiletSubmit, d.ToiletSubmit)
	fill(&p.ReviewSubmit, d.ReviewSubmit)
	fill(&p.ReportSubmit, d.ReportSubmit)
	fill(&p.PasswordUpdate, d.PasswordUpdate)
	fill(&p.AdView, d.AdView)
	fill(&p.UnlockCost, d.UnlockCost)
	fill(&p.ReferralReward, d.ReferralReward)
	fill(&p.OwnerReviewReward, d.OwnerReviewReward)
	fill(&p.OwnerUnlockReward, d.OwnerUnlockReward)
	fill(&p.LevelUpReward, d.LevelUpReward)
	return p
}

// PolicyService serves the credit policy stored in app_settings.
type PolicyService struct {
	settings *SettingsService

	mu       sync.Mutex
	cached   CreditPolicy
	cachedAt time.Time
	now      func() time.Time
}

func NewPolicyService(settings *SettingsService) *PolicyService {
	return &PolicyService{settings: settings, now: time.Now}
}

// Get returns the current policy.
func (p *PolicyService) Get(ctx context.Context) CreditPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cachedAt.IsZero() && p.now().Sub(p.cachedAt) < policyCacheTTL {
		return p.cached
	}

	policy := DefaultCreditPolicy()
	if raw := p.settings.Get(ctx, SettingCreditPolicy, ""); raw != "" {
		var stored CreditPolicy
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			slog.Warn("credit policy unparseable, using defaults", "error", err)
		} else {
			policy = stored.withDefaults()
		}
	}
	p.cached = policy
	p.cachedAt = p.now()
	return policy
}

// Save stores a new policy and drops the cache.
func (p *PolicyService) Save(ctx context.Context, policy CreditPolicy) (CreditPolicy, error) {
	policy = policy.withDefaults()
	raw, err := json.Marshal(policy)
	if err != nil {
		return CreditPolicy{}, err
	}
	if err := p.settings.Set(ctx, SettingCreditPolicy, string(raw), "json"); err != nil {
		return CreditPolicy{}, err
	}
	p.mu.Lock()
	p.cachedAt = time.Time{}
	p.mu.Unlock()
	return policy, nil
}
