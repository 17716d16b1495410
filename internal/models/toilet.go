package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	VisibilityPrivate    = "private"
	VisibilityShared     = "shared"
	VisibilityPublicData = "publicData"
)

// ValidVisibility reports whether v is one of the known visibility states.
func ValidVisibility(v string) bool {
	return v == VisibilityPrivate || v == VisibilityShared || v == VisibilityPublicData
}

// Toilet is a user- or admin-contributed location entry. SecretValue holds the
// door code and is only revealed through the unlock gate. ShareCount is how
// many times the entry became shared; each time pays the owner once.
type Toilet struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Address     string    `gorm:"size:500;not null;index" json:"address"`
	Lat         float64   `gorm:"not null;index:idx_toilets_position,priority:1" json:"lat"`
	Lng         float64   `gorm:"not null;index:idx_toilets_position,priority:2" json:"lng"`
	Visibility  string    `gorm:"size:20;not null;default:'private';index" json:"visibility"`
	Secured     bool      `gorm:"not null" json:"secured"`
	SecretValue string    `gorm:"size:200" json:"-"`
	Note        string    `gorm:"size:1000" json:"note"`
	ShareCount  int       `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t *Toilet) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// BeforeSave keeps Secured consistent with the presence of a secret.
func (t *Toilet) BeforeSave(tx *gorm.DB) error {
	t.Secured = t.SecretValue != ""
	return nil
}
