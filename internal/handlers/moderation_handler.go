package handlers

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// ModerationHandler serves the admin back office.
type ModerationHandler struct {
	reports *services.ReportService
	reviews *services.ReviewService
	auth    *services.AuthService
	ledger  *services.Ledger
}

func NewModerationHandler(reports *services.ReportService, reviews *services.ReviewService, auth *services.AuthService, ledger *services.Ledger) *ModerationHandler {
	return &ModerationHandler{reports: reports, reviews: reviews, auth: auth, ledger: ledger}
}

func (h *ModerationHandler) ListReports(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	status := c.Query("status", models.ReportPending)
	reports, total, err := h.reports.List(c.UserContext(), status, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PagedResponse[models.Report]{Items: reports, Total: total, Limit: limit, Offset: offset})
}

func (h *ModerationHandler) ApproveReport(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report id")
	}
	var req dto.ResolveReportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.CustomCredit != nil && *req.CustomCredit < 0 {
		return badRequest(c, "custom_credit must not be negative")
	}

	report, err := h.reports.Approve(c.UserContext(), id, req.CustomCredit, req.AdminNote)
	if err != nil {
		return respondError(c, err)
	}
	slog.Info("report approved", "report_id", id.String(), "admin_id", middleware.CurrentUser(c).ID.String())
	return c.JSON(report)
}

func (h *ModerationHandler) DismissReport(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report id")
	}
	var req dto.ResolveReportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	report, err := h.reports.Dismiss(c.UserContext(), id, req.AdminNote)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// ResolveOwnerRequest bans the reported content's address and deletes it.
func (h *ModerationHandler) ResolveOwnerRequest(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report id")
	}
	if err := h.reports.ResolveOwnerRequest(c.UserContext(), middleware.CurrentUser(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Location banned and content removed"})
}

func (h *ModerationHandler) DeleteReview(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid review id")
	}
	if err := h.reviews.Delete(c.UserContext(), middleware.CurrentUser(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ModerationHandler) BanUser(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	var req dto.BanUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.auth.Ban(c.UserContext(), middleware.CurrentUser(c).ID, id, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "User banned"})
}

func (h *ModerationHandler) AdjustCredits(c *fiber.Ctx) error {
	var req dto.AdjustCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Amount == 0 {
		return badRequest(c, "amount must not be zero")
	}

	txID, err := h.ledger.AdminAdjust(c.UserContext(), middleware.CurrentUser(c).ID, req.UserID, req.Amount, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	balance, err := h.ledger.Balance(c.UserContext(), req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"transaction_id": txID, "balance": balance})
}

func (h *ModerationHandler) Reconcile(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "user")
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	rec, err := h.ledger.Reconcile(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}
