package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateToiletRequest struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Visibility  string  `json:"visibility"`
	SecretValue string  `json:"secret_value"`
	Note        string  `json:"note"`
}

type UpdateToiletRequest struct {
	Name        *string  `json:"name"`
	Address     *string  `json:"address"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Visibility  *string  `json:"visibility"`
	SecretValue *string  `json:"secret_value"`
	Note        *string  `json:"note"`
}

// SubmitReviewRequest carries the text plus the input telemetry the abuse
// guard checks. StartedAt is when the user opened the compose screen.
type SubmitReviewRequest struct {
	Rating       int        `json:"rating"`
	Text         string     `json:"text"`
	StartedAt    time.Time  `json:"started_at"`
	Pasted       bool       `json:"pasted"`
	EditReviewID *uuid.UUID `json:"edit_review_id,omitempty"`
}

type CreateReportRequest struct {
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	Pasted    bool      `json:"pasted"`
}

type UnlockRequest struct {
	Method string `json:"method"`
}

type SecretResponse struct {
	SecretValue string `json:"secret_value"`
}

type AdSessionResponse struct {
	AdSessionID string `json:"ad_session_id"`
	Purpose     string `json:"purpose"`
}

type AdjustCreditsRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int       `json:"amount"`
	Reason string    `json:"reason"`
}

type ResolveReportRequest struct {
	CustomCredit *int   `json:"custom_credit,omitempty"`
	AdminNote    string `json:"admin_note"`
}

type BanUserRequest struct {
	Reason string `json:"reason"`
}

type SettingRequest struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}
