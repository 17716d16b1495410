package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys read by the core.
const (
	SettingCreditPolicy       = "credit_policy"
	SettingNewToiletRadius    = "new_toilet_radius"
	SettingMsgReviewReminder  = "msg_review_reminder"
	SettingMsgNewToiletNearby = "msg_new_toilet_nearby"
	SettingMsgPointGift       = "msg_point_gift"
	SettingMsgReviewReceived  = "msg_review_received"
	SettingMsgReportReceived  = "msg_report_received"
	SettingMsgLevelUp         = "msg_level_up"
)

type settingDefault struct {
	value       string
	typ         string
	description string
	public      bool
}

var settingDefaults = map[string]settingDefault{
	SettingNewToiletRadius:    {"2", "number", "radius in km for the nearby new content check", true},
	SettingMsgReviewReminder:  {"방금 이용하신 화장실은 어떠셨나요? 1분 만에 리뷰 남기고 크래딧 받으세요! 📝", "string", "", false},
	SettingMsgNewToiletNearby: {"내 주변 [radius]km 내에 [count]개의 새로운 화장실이 등록되었어요!", "string", "", false},
	SettingMsgPointGift:       {"관리자로부터 [amount]크래딧 선물이 도착했습니다! (사유: [reason])", "string", "", false},
	SettingMsgReviewReceived:  {"[name] 화장실에 새로운 리뷰가 등록되었습니다.", "string", "", false},
	SettingMsgReportReceived:  {"[name] 화장실에 대한 신고가 접수되었습니다. (사유: [reason])", "string", "", false},
	SettingMsgLevelUp:         {"와우! 활동 점수가 올라 [old]에서 [new] 등급이 되었어요! 축하 선물로 [reward]크래딧을 드려요!", "string", "", false},
	"msg_nightlife_mon":       {"월요병 치유! 🍻 오늘 술자리 화장실은?", "string", "", false},
	"msg_nightlife_tue":       {"화끈한 화요일! 🔥 화장실 비밀번호 확인하셨나요?", "string", "", false},
	"msg_nightlife_wed":       {"수요일엔 술이 술술~ 🍷 화장실 위치 봐두세요!", "string", "", false},
	"msg_nightlife_thu":       {"목요일은 목마르니까 🍺 화장실 꿀팁 챙기세요!", "string", "", false},
	"msg_nightlife_fri":       {"불금 시작! 🔥 오늘 가시는 곳의 화장실 비밀번호, 챙기셨나요?", "string", "", false},
}

// SettingsService reads and writes app_settings rows.
type SettingsService struct {
	db *gorm.DB
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get returns the stored value or fallback when the key is missing.
func (s *SettingsService) Get(ctx context.Context, key, fallback string) string {
	var setting models.AppSetting
	err := s.db.WithContext(ctx).Where(&models.AppSetting{Key: key}).First(&setting).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("setting lookup failed", "key", key, "error", err)
		}
		return fallback
	}
	return setting.Value
}

// Text satisfies reminder.Messages.
func (s *SettingsService) Text(ctx context.Context, key, fallback string) string {
	v := s.Get(ctx, key, fallback)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Float parses a numeric setting, falling back on a missing or bad value.
func (s *SettingsService) Float(ctx context.Context, key string, fallback float64) float64 {
	v := s.Get(ctx, key, "")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

// Set upserts a setting.
func (s *SettingsService) Set(ctx context.Context, key, value, typ string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	if typ == "" {
		typ = "string"
	}
	setting := models.AppSetting{Key: key, Value: value, Type: typ}
	if d, ok := settingDefaults[key]; ok {
		setting.Description = d.description
		setting.Public = d.public
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(&setting).Error
}

// Public returns the settings clients may read.
func (s *SettingsService) Public(ctx context.Context) ([]models.AppSetting, error) {
	var rows []models.AppSetting
	if err := s.db.WithContext(ctx).Where("public = ?", true).Order("key").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SeedDefaults inserts missing defaults without touching existing values.
func (s *SettingsService) SeedDefaults(ctx context.Context) error {
	for key, d := range settingDefaults {
		row := models.AppSetting{Key: key, Value: d.value, Type: d.typ, Description: d.description, Public: d.public}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Template replaces [name]-style placeholders.
func Template(tpl string, vars map[string]string) string {
	for k, v := range vars {
		tpl = strings.ReplaceAll(tpl, "["+k+"]", v)
	}
	return tpl
}
