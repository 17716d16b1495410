package handlers

import (
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.authService.Register(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.authService.Login(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.authService.Refresh(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.authService.Logout(c.UserContext(), &req); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.JSON(dto.NewUserResponse(middleware.CurrentUser(c)))
}

func (h *AuthHandler) UpdatePushSettings(c *fiber.Ctx) error {
	var req dto.PushSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	user := middleware.CurrentUser(c)
	if err := h.authService.UpdatePushSettings(c.UserContext(), user.ID, req.PushToken, req.Enabled); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Push settings updated"})
}

// Withdraw closes the caller's account after re-checking the password.
func (h *AuthHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	user := middleware.CurrentUser(c)
	if err := h.authService.Withdraw(c.UserContext(), user.ID, req.Password, req.Reason); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Account deleted successfully"})
}
