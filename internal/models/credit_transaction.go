package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TxSignup         = "signup"
	TxReferral       = "referral"
	TxReview         = "review"
	TxAdReward       = "ad_reward"
	TxVideoReward    = "video_reward"
	TxToiletRegister = "toilet_register"
	TxToiletUnlock   = "toilet_unlock"
	TxReportPenalty  = "report_penalty"
	TxAdminAdjust    = "admin_adjust"
	TxScoreChange    = "score_change"
	TxOther          = "other"
)

var transactionTypes = map[string]struct{}{
	TxSignup: {}, TxReferral: {}, TxReview: {}, TxAdReward: {}, TxVideoReward: {},
	TxToiletRegister: {}, TxToiletUnlock: {}, TxReportPenalty: {}, TxAdminAdjust: {},
	TxScoreChange: {}, TxOther: {},
}

// ValidTransactionType reports whether t is a known ledger entry type.
func ValidTransactionType(t string) bool {
	_, ok := transactionTypes[t]
	return ok
}

var ErrImmutableTransaction = errors.New("credit transactions are append-only")

// CreditTransaction is an append-only ledger entry. Amount is the signed
// requested change; BalanceAfter is the clamped balance once it was applied.
// Seq numbers a user's entries from 1 in the order they were applied.
type CreditTransaction struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_credit_user_seq,priority:1" json:"user_id"`
	Seq           int64     `gorm:"not null;uniqueIndex:idx_credit_user_seq,priority:2" json:"seq"`
	Amount        int       `gorm:"not null" json:"amount"`
	BalanceAfter  int       `gorm:"not null" json:"balance_after"`
	Type          string    `gorm:"size:30;not null;index" json:"type"`
	ReferenceType string    `gorm:"size:30;index:idx_credit_reference,priority:1" json:"reference_type,omitempty"`
	ReferenceID   string    `gorm:"size:64;index:idx_credit_reference,priority:2" json:"reference_id,omitempty"`
	Description   string    `gorm:"size:500" json:"description"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *CreditTransaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableTransaction
}

func (t *CreditTransaction) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableTransaction
}
