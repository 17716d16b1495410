package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userMap map[uuid.UUID]*models.User

func (m userMap) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, fiber.ErrNotFound
}

func signToken(t *testing.T, secret string, sub uuid.UUID, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub.String(),
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newProtectedApp(cfg *config.Config, users UserGetter) *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTProtected(cfg), LoadUser(users), func(c *fiber.Ctx) error {
		return c.SendString(CurrentUser(c).Email)
	})
	app.Get("/admin", JWTProtected(cfg), LoadUser(users), AdminRequired(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoadUser(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	active := &models.User{ID: uuid.New(), Email: "a@example.com", Role: models.RoleUser, Status: models.StatusActive}
	banned := &models.User{ID: uuid.New(), Email: "b@example.com", Role: models.RoleUser, Status: models.StatusBanned}
	app := newProtectedApp(cfg, userMap{active.ID: active, banned.ID: banned})
	exp := time.Now().Add(time.Hour)

	assert.Equal(t, fiber.StatusOK, call(t, app, "/me", signToken(t, "secret", active.ID, exp)))
	assert.Equal(t, fiber.StatusForbidden, call(t, app, "/me", signToken(t, "secret", banned.ID, exp)))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", signToken(t, "secret", uuid.New(), exp)))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", signToken(t, "wrong", active.ID, exp)))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", signToken(t, "secret", active.ID, time.Now().Add(-time.Minute))))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", ""))
}

func TestAdminRequired(t *testing.T) {
	listed := &models.User{ID: uuid.New(), Email: "Ops@Example.com", Role: models.RoleUser}
	byID := &models.User{ID: uuid.New(), Email: "id@example.com", Role: models.RoleUser}
	admin := &models.User{ID: uuid.New(), Email: "root@example.com", Role: models.RoleAdmin}
	plain := &models.User{ID: uuid.New(), Email: "user@example.com", Role: models.RoleUser}
	cfg := &config.Config{
		JWTSecret:    "secret",
		AdminEmails:  "ops@example.com, other@example.com",
		AdminUserIDs: byID.ID.String(),
	}
	app := newProtectedApp(cfg, userMap{listed.ID: listed, byID.ID: byID, admin.ID: admin, plain.ID: plain})
	exp := time.Now().Add(time.Hour)

	for _, u := range []*models.User{listed, byID, admin} {
		assert.Equal(t, fiber.StatusNoContent, call(t, app, "/admin", signToken(t, "secret", u.ID, exp)), u.Email)
	}
	assert.Equal(t, fiber.StatusForbidden, call(t, app, "/admin", signToken(t, "secret", plain.ID, exp)))
}
