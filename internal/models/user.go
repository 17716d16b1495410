package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleGuest = "guest"
	RoleUser  = "user"
	RoleVIP   = "vip"
	RoleAdmin = "admin"
)

const (
	StatusActive    = "active"
	StatusWithdrawn = "withdrawn"
	StatusBanned    = "banned"
)

// User is an account holder. Credits is the cached ledger balance and is only
// written by the credit ledger.
type User struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email               string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password            string         `gorm:"not null" json:"-"`
	Nickname            string         `gorm:"size:50" json:"nickname"`
	Role                string         `gorm:"size:20;default:'user'" json:"role"`
	Status              string         `gorm:"size:20;default:'active';index" json:"status"`
	Credits             int            `gorm:"not null;default:0" json:"credits"`
	ActivityScore       float64        `gorm:"not null;default:0" json:"activity_score"`
	Level               int            `gorm:"not null;default:0" json:"level"`
	LevelOverride       *int           `json:"level_override,omitempty"`
	NotificationEnabled bool           `gorm:"not null" json:"notification_enabled"`
	PushToken           *string        `gorm:"size:512" json:"-"`
	ReferrerID          *uuid.UUID     `gorm:"type:uuid;index" json:"-"`
	StatusReason        string         `gorm:"size:500" json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the account can no longer take part in credit
// transactions.
func (u *User) IsTerminal() bool {
	return u.Status == StatusWithdrawn || u.Status == StatusBanned || u.DeletedAt.Valid
}

// IsPrivileged reports whether the user skips quotas and ad gates.
func (u *User) IsPrivileged() bool {
	return u.Role == RoleVIP || u.Role == RoleAdmin
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
