package dto

import (
	"time"

	"github.com/google/uuid"
)

type PositionRequest struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Permission string    `json:"permission"`
	At         time.Time `json:"at"`
}

type ConfigureRemindersRequest struct {
	Enabled bool `json:"enabled"`
}

type ConfigureRemindersResponse struct {
	Mode string `json:"mode"`
}

type DetailViewRequest struct {
	ToiletID uuid.UUID `json:"toilet_id"`
	DwellMs  int64     `json:"dwell_ms"`
}

type DetailViewResponse struct {
	Scheduled bool `json:"scheduled"`
}
