package models

import "time"

// AppSetting is an admin-managed key/value entry (credit policy, message
// templates, radii).
type AppSetting struct {
	Key         string    `gorm:"size:100;primaryKey" json:"key"`
	Value       string    `gorm:"type:text;not null" json:"value"`
	Type        string    `gorm:"size:20;default:'string'" json:"type"` // string, number, json
	Description string    `gorm:"size:500" json:"description,omitempty"`
	Public      bool      `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}
