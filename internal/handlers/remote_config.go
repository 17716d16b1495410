package handlers

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// RemoteConfigHandler serves the credit policy and app settings.
type RemoteConfigHandler struct {
	settings *services.SettingsService
	policy   *services.PolicyService
}

func NewRemoteConfigHandler(settings *services.SettingsService, policy *services.PolicyService) *RemoteConfigHandler {
	return &RemoteConfigHandler{settings: settings, policy: policy}
}

// GetConfig returns the policy and the public settings (public).
func (h *RemoteConfigHandler) GetConfig(c *fiber.Ctx) error {
	rows, err := h.settings.Public(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	settings := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var value interface{}
		switch row.Type {
		case "bool":
			value, _ = strconv.ParseBool(row.Value)
		case "number":
			value, _ = strconv.ParseFloat(row.Value, 64)
		case "json":
			if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
				value = nil
			}
		default:
			value = row.Value
		}
		settings[row.Key] = value
	}

	return c.JSON(fiber.Map{
		"policy":   h.policy.Get(c.UserContext()),
		"settings": settings,
	})
}

// SetConfigKey sets or updates a setting (admin only).
func (h *RemoteConfigHandler) SetConfigKey(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Key parameter is required")
	}
	if key == services.SettingCreditPolicy {
		return badRequest(c, "Use PUT /api/admin/policy to change the credit policy")
	}

	var req dto.SettingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Value == "" {
		return badRequest(c, "Value is required")
	}
	if req.Type == "json" && !json.Valid([]byte(req.Value)) {
		return badRequest(c, "Value is not valid JSON")
	}

	if err := h.settings.Set(c.UserContext(), key, req.Value, req.Type); err != nil {
		return respondError(c, err)
	}

	slog.Info("setting updated", "key", key, "admin_id", middleware.CurrentUser(c).ID.String())
	return c.JSON(fiber.Map{
		"error":   false,
		"message": "Config updated successfully",
		"config":  fiber.Map{"key": key, "value": req.Value, "type": req.Type},
	})
}

// UpdatePolicy replaces the credit policy (admin only). Zero fields take
// their defaults.
func (h *RemoteConfigHandler) UpdatePolicy(c *fiber.Ctx) error {
	var req services.CreditPolicy
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	saved, err := h.policy.Save(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	slog.Info("credit policy updated", "admin_id", middleware.CurrentUser(c).ID.String())
	return c.JSON(saved)
}
