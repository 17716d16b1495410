package handlers

import (
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	userID := middleware.CurrentUser(c).ID
	items, total, err := h.notifications.List(c.UserContext(), userID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	unread, err := h.notifications.UnreadCountToday(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"page":         dto.PagedResponse[models.Notification]{Items: items, Total: total, Limit: limit, Offset: offset},
		"unread_today": unread,
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid notification id")
	}
	if err := h.notifications.MarkRead(c.UserContext(), middleware.CurrentUser(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.notifications.MarkAllRead(c.UserContext(), middleware.CurrentUser(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}
