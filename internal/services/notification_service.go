package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/push"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrDispatchInFlight = errors.New("notification is being dispatched")

// NotificationRetention is how long records are kept.
const NotificationRetention = 30 * 24 * time.Hour

type NotificationService struct {
	db       *gorm.DB
	channel  push.Channel
	loc      *time.Location
	inflight *keyLocks
	now      func() time.Time
}

func NewNotificationService(db *gorm.DB, channel push.Channel, loc *time.Location) *NotificationService {
	if loc == nil {
		loc = time.UTC
	}
	return &NotificationService{
		db:       db,
		channel:  channel,
		loc:      loc,
		inflight: newKeyLocks(),
		now:      time.Now,
	}
}

// Create appends a pending, unread record.
func (s *NotificationService) Create(ctx context.Context, typ string, userID uuid.UUID, title, message string, data map[string]string) (*models.Notification, error) {
	n := models.Notification{
		UserID:         userID,
		Type:           typ,
		Title:          title,
		Message:        message,
		SentAt:         s.now(),
		DeliveryStatus: models.DeliveryPending,
	}
	if len(data) > 0 {
		n.Data = datatypes.JSONMap{}
		for k, v := range data {
			n.Data[k] = v
		}
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &n, nil
}

// Dispatch delivers a record. An already sent record is a no-op that reports
// true. A user with notifications disabled marks the record failed.
func (s *NotificationService) Dispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	key := id.String()
	if !s.inflight.TryAcquire(key) {
		return false, ErrDispatchInFlight
	}
	defer s.inflight.Release(key)

	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	if n.DeliveryStatus == models.DeliverySent {
		return true, nil
	}

	var user models.User
	if err := s.db.WithContext(ctx).Unscoped().First(&user, "id = ?", n.UserID).Error; err != nil {
		return false, fmt.Errorf("load notification target: %w", err)
	}
	if !user.NotificationEnabled || user.IsTerminal() {
		return false, s.finish(ctx, &n, models.DeliveryFailed)
	}

	// Without a device token the inbox record itself is the delivery.
	if user.PushToken == nil || *user.PushToken == "" {
		return true, s.finish(ctx, &n, models.DeliverySent)
	}

	msg := push.Message{
		CollapseKey: n.ID.String(),
		Token:       *user.PushToken,
		Title:       n.Title,
		Body:        n.Message,
		Channel:     channelFor(n.Type),
		Data:        map[string]string{"type": n.Type, "notification_id": n.ID.String()},
	}
	for k, v := range n.Data {
		if str, ok := v.(string); ok {
			msg.Data[k] = str
		}
	}

	if err := s.channel.Deliver(ctx, msg); err != nil {
		slog.Warn("push delivery failed", "user_id", n.UserID.String(), "notification_id", n.ID.String(), "error", err)
		return false, s.finish(ctx, &n, models.DeliveryFailed)
	}
	return true, s.finish(ctx, &n, models.DeliverySent)
}

func (s *NotificationService) finish(ctx context.Context, n *models.Notification, status string) error {
	updates := map[string]interface{}{
		"delivery_status": status,
		"attempts":        gorm.Expr("attempts + 1"),
	}
	if status == models.DeliverySent {
		updates["delivered_at"] = s.now()
	}
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	n.DeliveryStatus = status
	return nil
}

// Notify creates and dispatches a record. Failures are logged and swallowed:
// a missed notification never fails the action that caused it.
func (s *NotificationService) Notify(ctx context.Context, typ string, userID uuid.UUID, title, message string, data map[string]string) *models.Notification {
	n, err := s.Create(ctx, typ, userID, title, message, data)
	if err != nil {
		slog.Error("notification create failed", "user_id", userID.String(), "type", typ, "error", err)
		return nil
	}
	if _, err := s.Dispatch(ctx, n.ID); err != nil {
		slog.Error("notification dispatch failed", "user_id", userID.String(), "notification_id", n.ID.String(), "error", err)
	}
	return n
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, int64, error) {
	var items []models.Notification
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("sent_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	return result.RowsAffected, result.Error
}

// UnreadCountToday counts unread records since local midnight.
func (s *NotificationService) UnreadCountToday(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ? AND sent_at >= ?", userID, false, abuse.StartOfLocalDay(s.now(), s.loc)).
		Count(&count).Error
	return count, err
}

// DeleteExpired removes records older than NotificationRetention.
func (s *NotificationService) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("sent_at < ?", s.now().Add(-NotificationRetention)).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}

func channelFor(typ string) string {
	switch typ {
	case models.NotifyReviewReminder, models.NotifySmartNightlife, models.NotifyFixedNightlife, models.NotifyNearbyToilet:
		return "reminders"
	case models.NotifyAdminMessage, models.NotifyReportResult, models.NotifyToiletReported:
		return "messages"
	default:
		return "default"
	}
}
