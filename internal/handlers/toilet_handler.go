package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

const maxNearbyRadiusKm = 20

type ToiletHandler struct {
	toilets *services.ToiletService
	reviews *services.ReviewService
	reports *services.ReportService
	unlocks *services.UnlockService
	ads     *services.AdService
}

func NewToiletHandler(toilets *services.ToiletService, reviews *services.ReviewService, reports *services.ReportService,
	unlocks *services.UnlockService, ads *services.AdService) *ToiletHandler {
	return &ToiletHandler{toilets: toilets, reviews: reviews, reports: reports, unlocks: unlocks, ads: ads}
}

// Nearby lists content around lat/lng. radius is in km, since is RFC 3339.
func (h *ToiletHandler) Nearby(c *fiber.Ctx) error {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return badRequest(c, "lat and lng are required")
	}
	radius, err := strconv.ParseFloat(c.Query("radius", "1"), 64)
	if err != nil || radius <= 0 || radius > maxNearbyRadiusKm {
		return badRequest(c, "radius must be between 0 and 20 km")
	}
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "since must be RFC 3339")
		}
		since = &t
	}

	hits, err := h.toilets.Nearby(c.UserContext(), middleware.CurrentUser(c).ID, lat, lng, radius, since)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": hits, "total": len(hits)})
}

func (h *ToiletHandler) Get(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	toilet, err := h.toilets.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	user := middleware.CurrentUser(c)
	if toilet.Visibility == models.VisibilityPrivate && toilet.OwnerID != user.ID && !user.IsAdmin() {
		return respondError(c, services.ErrNotFound)
	}
	return c.JSON(toilet)
}

func (h *ToiletHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateToiletRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	toilet, err := h.toilets.Create(c.UserContext(), middleware.CurrentUser(c), services.ToiletInput{
		Name:        req.Name,
		Address:     req.Address,
		Lat:         req.Lat,
		Lng:         req.Lng,
		Visibility:  req.Visibility,
		SecretValue: req.SecretValue,
		Note:        req.Note,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toilet)
}

func (h *ToiletHandler) Update(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	var req dto.UpdateToiletRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	toilet, err := h.toilets.Update(c.UserContext(), middleware.CurrentUser(c), id, services.ToiletUpdate{
		Name:        req.Name,
		Address:     req.Address,
		Lat:         req.Lat,
		Lng:         req.Lng,
		Visibility:  req.Visibility,
		SecretValue: req.SecretValue,
		Note:        req.Note,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toilet)
}

func (h *ToiletHandler) Delete(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	if err := h.toilets.Delete(c.UserContext(), middleware.CurrentUser(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unlock grants temporary access to the door code, by credits or by ad.
func (h *ToiletHandler) Unlock(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	req := dto.UnlockRequest{Method: string(services.UnlockWithCredit)}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	res, err := h.unlocks.RequestUnlock(c.UserContext(), middleware.CurrentUser(c), id, services.UnlockMethod(req.Method))
	if errors.Is(err, services.ErrInsufficientBalance) {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":        true,
			"message":      err.Error(),
			"code":         "insufficient_balance",
			"ad_available": res != nil && res.AdAvailable,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *ToiletHandler) Secret(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	secret, err := h.unlocks.Reveal(c.UserContext(), middleware.CurrentUser(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SecretResponse{SecretValue: secret})
}

func (h *ToiletHandler) ListReviews(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	limit, offset := pagination(c)
	reviews, total, err := h.reviews.ListForToilet(c.UserContext(), id, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PagedResponse[models.Review]{Items: reviews, Total: total, Limit: limit, Offset: offset})
}

func (h *ToiletHandler) SubmitReview(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	var req dto.SubmitReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	review, err := h.reviews.Submit(c.UserContext(), middleware.CurrentUser(c), services.SubmitReview{
		ToiletID:     id,
		Rating:       req.Rating,
		Text:         req.Text,
		StartedAt:    req.StartedAt,
		Pasted:       req.Pasted,
		EditReviewID: req.EditReviewID,
	})
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if req.EditReviewID != nil {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(review)
}

func (h *ToiletHandler) DeleteReview(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid review id")
	}
	if err := h.reviews.Delete(c.UserContext(), middleware.CurrentUser(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReviewAdReward starts the ad that pays an unrewarded review.
func (h *ToiletHandler) ReviewAdReward(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid review id")
	}
	session, err := h.reviews.RequestAdReward(c.UserContext(), middleware.CurrentUser(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.AdSessionResponse{AdSessionID: session.ID, Purpose: string(session.Purpose)})
}

// CreditAd starts an ad that pays plain credits.
func (h *ToiletHandler) CreditAd(c *fiber.Ctx) error {
	session, err := h.ads.Begin(c.UserContext(), middleware.CurrentUser(c).ID, services.AdPurposeCredit, "")
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.AdSessionResponse{AdSessionID: session.ID, Purpose: string(session.Purpose)})
}

func (h *ToiletHandler) SubmitReport(c *fiber.Ctx) error {
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid toilet id")
	}
	var req dto.CreateReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	report, err := h.reports.Submit(c.UserContext(), middleware.CurrentUser(c), services.SubmitReport{
		ToiletID:  id,
		Reason:    req.Reason,
		StartedAt: req.StartedAt,
		Pasted:    req.Pasted,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(report)
}
