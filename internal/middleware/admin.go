package middleware

import (
	"strings"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
)

// AdminRequired admits users with the admin role or listed in ADMIN_EMAILS /
// ADMIN_USER_IDS. It must run after LoadUser.
func AdminRequired(cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)
	adminUserIDs := parseCSV(cfg.AdminUserIDs)

	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		if user.IsAdmin() || contains(adminEmails, user.Email) || contains(adminUserIDs, user.ID.String()) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if strings.EqualFold(item, val) {
			return true
		}
	}
	return false
}
