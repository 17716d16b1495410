package services

import (
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
)

// CreditEffect is the ledger consequence of a visibility change.
type CreditEffect int

const (
	EffectNone CreditEffect = iota
	EffectEarn
	EffectPenalty
)

// CreationEffect is the effect of creating content with visibility v.
func CreationEffect(v string) CreditEffect {
	if v == models.VisibilityShared {
		return EffectEarn
	}
	return EffectNone
}

// TransitionEffect validates an edit from one visibility to another. Only
// admins may move content into or out of publicData, and reverting shared
// content to private is admin-only and never refunded.
func TransitionEffect(from, to string, admin bool) (CreditEffect, error) {
	if !models.ValidVisibility(to) {
		return EffectNone, fmt.Errorf("%w: unknown visibility %q", ErrValidation, to)
	}
	if from == to {
		return EffectNone, nil
	}
	if (from == models.VisibilityPublicData || to == models.VisibilityPublicData) && !admin {
		return EffectNone, ErrForbidden
	}
	switch {
	case from == models.VisibilityPrivate && to == models.VisibilityShared:
		return EffectEarn, nil
	case from == models.VisibilityShared && to == models.VisibilityPrivate:
		if !admin {
			return EffectNone, ErrForbidden
		}
		return EffectNone, nil
	}
	return EffectNone, nil
}

// DeletionEffect is the effect of deleting content with visibility v.
func DeletionEffect(v string) CreditEffect {
	if v == models.VisibilityShared {
		return EffectPenalty
	}
	return EffectNone
}

// AddressMatchesBan compares addresses with all whitespace removed and
// matches when either contains the other.
func AddressMatchesBan(address, banned string) bool {
	a := abuse.StripSpace(address)
	b := abuse.StripSpace(banned)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
