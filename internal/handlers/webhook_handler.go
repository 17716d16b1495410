package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	ads    *services.AdService
	secret []byte
}

func NewWebhookHandler(ads *services.AdService, secret string) *WebhookHandler {
	return &WebhookHandler{ads: ads, secret: []byte(secret)}
}

// SignAdSession returns the signature the ad network sends for sessionID.
func SignAdSession(secret []byte, sessionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleAdCompletion redeems a rewarded ad session. Replays of a redeemed
// session are acknowledged without effect so the network stops retrying.
func (h *WebhookHandler) HandleAdCompletion(c *fiber.Ctx) error {
	if len(h.secret) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Ad webhooks not configured",
		})
	}

	var webhook dto.AdCompletionWebhook
	if err := c.BodyParser(&webhook); err != nil || webhook.SessionID == "" {
		return badRequest(c, "Invalid webhook payload")
	}

	expected := SignAdSession(h.secret, webhook.SessionID)
	if !hmac.Equal([]byte(webhook.Signature), []byte(expected)) {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	session, err := h.ads.Complete(c.UserContext(), webhook.SessionID)
	if errors.Is(err, services.ErrAdSessionUnknown) {
		slog.Warn("ad webhook for unknown session", "session_id", webhook.SessionID, "transaction_id", webhook.TransactionID)
		return c.JSON(fiber.Map{"received": true, "redeemed": false})
	}
	if err != nil {
		slog.Error("ad webhook processing failed", "session_id", webhook.SessionID, "error", err)
		return respondError(c, err)
	}

	slog.Info("ad webhook processed", "session_id", session.ID, "purpose", string(session.Purpose), "transaction_id", webhook.TransactionID)
	return c.JSON(fiber.Map{"received": true, "redeemed": true})
}
