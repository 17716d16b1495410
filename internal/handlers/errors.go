package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/device"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{services.ErrInsufficientBalance, fiber.StatusPaymentRequired, "insufficient_balance"},
	{services.ErrDuplicateAction, fiber.StatusConflict, "duplicate_action"},
	{services.ErrValidation, fiber.StatusBadRequest, "validation_failed"},
	{services.ErrSelfReferral, fiber.StatusBadRequest, "self_referral"},
	{services.ErrEmailTaken, fiber.StatusConflict, "email_taken"},
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials"},
	{services.ErrInvalidToken, fiber.StatusUnauthorized, "invalid_token"},
	{services.ErrTerminalUser, fiber.StatusForbidden, "account_closed"},
	{services.ErrForbidden, fiber.StatusForbidden, "forbidden"},
	{services.ErrAddressBanned, fiber.StatusForbidden, "address_banned"},
	{services.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{services.ErrUserNotFound, fiber.StatusNotFound, "user_not_found"},
	{services.ErrAdSessionUnknown, fiber.StatusNotFound, "ad_session_unknown"},
	{services.ErrUnlockInFlight, fiber.StatusConflict, "unlock_in_flight"},
	{services.ErrDispatchInFlight, fiber.StatusConflict, "dispatch_in_flight"},
	{services.ErrReportClosed, fiber.StatusConflict, "report_closed"},
	{device.ErrInvalidInstall, fiber.StatusBadRequest, "invalid_install"},
	{device.ErrUnknownInstall, fiber.StatusNotFound, "unknown_install"},
	{reminder.ErrPermissionDenied, fiber.StatusForbidden, "permission_denied"},
	{services.ErrProviderFailure, fiber.StatusServiceUnavailable, "provider_failure"},
}

// respondError writes the error response for a service error. Unknown errors
// are logged and reported as 500 without details.
func respondError(c *fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		code := m.code
		var v *abuse.Violation
		if errors.As(err, &v) {
			code = string(v.Reason)
			if v.Reason == abuse.ReasonDailyLimit {
				return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
					Error: true, Message: v.Message, Code: code,
				})
			}
		}
		msg := err.Error()
		if m.status >= fiber.StatusInternalServerError {
			msg = "Temporary failure, please try again"
		}
		return c.Status(m.status).JSON(dto.ErrorResponse{Error: true, Message: msg, Code: code})
	}

	slog.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: true, Message: msg})
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

// pagination reads limit/offset query params, capping limit at 100.
func pagination(c *fiber.Ctx) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
