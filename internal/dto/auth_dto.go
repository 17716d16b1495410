package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
)

type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Nickname     string `json:"nickname"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	Nickname            string    `json:"nickname"`
	Role                string    `json:"role"`
	Credits             int       `json:"credits"`
	ActivityScore       float64   `json:"activity_score"`
	Level               int       `json:"level"`
	NotificationEnabled bool      `json:"notification_enabled"`
	// ReferralCode is what new users enter to credit this account.
	ReferralCode string    `json:"referral_code"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewUserResponse(u *models.User) UserResponse {
	level := u.Level
	if u.LevelOverride != nil {
		level = *u.LevelOverride
	}
	return UserResponse{
		ID:                  u.ID,
		Email:               u.Email,
		Nickname:            u.Nickname,
		Role:                u.Role,
		Credits:             u.Credits,
		ActivityScore:       u.ActivityScore,
		Level:               level,
		NotificationEnabled: u.NotificationEnabled,
		ReferralCode:        u.ID.String(),
		CreatedAt:           u.CreatedAt,
	}
}

type WithdrawRequest struct {
	Password string `json:"password"`
	Reason   string `json:"reason"`
}

// PushSettingsRequest updates the device token and opt-in. A nil token keeps
// the stored one, an empty string clears it.
type PushSettingsRequest struct {
	PushToken *string `json:"push_token"`
	Enabled   bool    `json:"enabled"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	Redis     string `json:"redis"`
}

type PagedResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
