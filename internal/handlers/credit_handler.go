package handlers

import (
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type CreditHandler struct {
	ledger *services.Ledger
}

func NewCreditHandler(ledger *services.Ledger) *CreditHandler {
	return &CreditHandler{ledger: ledger}
}

func (h *CreditHandler) Balance(c *fiber.Ctx) error {
	balance, err := h.ledger.Balance(c.UserContext(), middleware.CurrentUser(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"balance": balance})
}

func (h *CreditHandler) History(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, total, err := h.ledger.History(c.UserContext(), middleware.CurrentUser(c).ID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PagedResponse[models.CreditTransaction]{Items: txs, Total: total, Limit: limit, Offset: offset})
}
