package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotifyFavoriteUpdate   = "favorite_update"
	NotifyCreditAwarded    = "credit_awarded"
	NotifyToiletReported   = "toilet_reported"
	NotifyNearbyToilet     = "nearby_toilet"
	NotifyReviewAdded      = "review_added"
	NotifyAdminMessage     = "admin_message"
	NotifyLevelChange      = "level_change"
	NotifyScoreChange      = "score_change"
	NotifyReportResult     = "report_result"
	NotifyMilestoneReached = "milestone_reached"
	NotifyPointGift        = "point_gift"
	NotifyLevelUp          = "level_up"
	NotifyReviewReminder   = "review_reminder"
	NotifySmartNightlife   = "smart_nightlife"
	NotifyFixedNightlife   = "fixed_nightlife"
)

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

type Notification struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Type           string            `gorm:"size:30;not null;index" json:"type"`
	Title          string            `gorm:"size:200;not null" json:"title"`
	Message        string            `gorm:"size:1000;not null" json:"message"`
	Data           datatypes.JSONMap `json:"data,omitempty"`
	Read           bool              `gorm:"not null;index" json:"read"`
	SentAt         time.Time         `gorm:"not null;index" json:"sent_at"`
	DeliveryStatus string            `gorm:"size:20;not null;default:'pending'" json:"delivery_status"`
	Attempts       int               `gorm:"not null;default:0" json:"-"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
