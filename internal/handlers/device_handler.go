package handlers

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/device"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/gofiber/fiber/v2"
)

// DeviceHandler drives the per-install reminder engine.
type DeviceHandler struct {
	registry *device.Registry
}

func NewDeviceHandler(registry *device.Registry) *DeviceHandler {
	return &DeviceHandler{registry: registry}
}

func parsePermission(s string) (reminder.PermissionLevel, bool) {
	switch p := reminder.PermissionLevel(s); p {
	case "", reminder.PermissionAlways, reminder.PermissionGranted, reminder.PermissionPrompt, reminder.PermissionDenied:
		return p, true
	}
	return "", false
}

func (h *DeviceHandler) ReportPosition(c *fiber.Ctx) error {
	var req dto.PositionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	perm, ok := parsePermission(req.Permission)
	if !ok {
		return badRequest(c, "Unknown permission level")
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		return badRequest(c, "Invalid coordinates")
	}
	if !req.At.IsZero() && req.At.After(time.Now().Add(time.Minute)) {
		return badRequest(c, "Position timestamp is in the future")
	}

	err := h.registry.ReportPosition(c.Params("install"), middleware.CurrentUser(c).ID, device.PositionReport{
		Lat:        req.Lat,
		Lng:        req.Lng,
		Accuracy:   req.Accuracy,
		Permission: perm,
		At:         req.At,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *DeviceHandler) Configure(c *fiber.Ctx) error {
	var req dto.ConfigureRemindersRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	user := middleware.CurrentUser(c)
	mode, err := h.registry.Configure(c.UserContext(), c.Params("install"), user.ID, req.Enabled && user.NotificationEnabled)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ConfigureRemindersResponse{Mode: string(mode)})
}

// DetailView is sent when the user leaves a content detail screen.
func (h *DeviceHandler) DetailView(c *fiber.Ctx) error {
	var req dto.DetailViewRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.DwellMs < 0 {
		return badRequest(c, "dwell_ms must not be negative")
	}
	scheduled, err := h.registry.DetailView(c.UserContext(), c.Params("install"), middleware.CurrentUser(c),
		req.ToiletID, time.Duration(req.DwellMs)*time.Millisecond)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.DetailViewResponse{Scheduled: scheduled})
}

// Wake runs the install's checks now, e.g. when the app comes to the foreground.
func (h *DeviceHandler) Wake(c *fiber.Ctx) error {
	report, err := h.registry.Wake(c.UserContext(), c.Params("install"), middleware.CurrentUser(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
