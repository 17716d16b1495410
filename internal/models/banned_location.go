package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BannedLocation blocks new entries whose address matches Address.
type BannedLocation struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Address  string    `gorm:"size:500;not null" json:"address"`
	Reason   string    `gorm:"size:500" json:"reason"`
	BannedBy uuid.UUID `gorm:"type:uuid" json:"banned_by"`
	BannedAt time.Time `gorm:"not null" json:"banned_at"`
}

func (b *BannedLocation) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
