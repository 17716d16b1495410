package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/device"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorStatus(t *testing.T, err error) (int, dto.ErrorResponse) {
	t.Helper()
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return respondError(c, err) })

	resp, testErr := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, testErr)
	defer resp.Body.Close()
	var body dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient", services.ErrInsufficientBalance, fiber.StatusPaymentRequired, "insufficient_balance"},
		{"wrapped not found", fmt.Errorf("user x: %w", services.ErrNotFound), fiber.StatusNotFound, "not_found"},
		{"terminal before forbidden", fmt.Errorf("user x: %w", services.ErrTerminalUser), fiber.StatusForbidden, "account_closed"},
		{"in flight", services.ErrUnlockInFlight, fiber.StatusConflict, "unlock_in_flight"},
		{"install", device.ErrInvalidInstall, fiber.StatusBadRequest, "invalid_install"},
		{"violation reason wins", fmt.Errorf("%w: %w", services.ErrValidation,
			&abuse.Violation{Reason: abuse.ReasonTooFast, Message: "slow down"}), fiber.StatusBadRequest, "too_fast"},
		{"daily limit is 429", fmt.Errorf("%w: %w", services.ErrDuplicateAction,
			&abuse.Violation{Reason: abuse.ReasonDailyLimit, Message: "tomorrow"}), fiber.StatusTooManyRequests, "daily_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := errorStatus(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.True(t, body.Error)
		})
	}
}

func TestRespondError_HidesInternalDetails(t *testing.T) {
	status, body := errorStatus(t, fmt.Errorf("%w: redis: connection refused", services.ErrProviderFailure))
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.NotContains(t, body.Message, "redis")

	status, body = errorStatus(t, errors.New("pq: relation does not exist"))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", body.Message)
}

func TestPagination(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		limit, offset := pagination(c)
		return c.JSON(fiber.Map{"limit": limit, "offset": offset})
	})

	for query, want := range map[string][2]float64{
		"":                     {20, 0},
		"?limit=500&offset=10": {100, 10},
		"?limit=-1&offset=-5":  {20, 0},
		"?limit=abc":           {20, 0},
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+query, nil))
		require.NoError(t, err)
		var got map[string]float64
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		resp.Body.Close()
		assert.Equal(t, want[0], got["limit"], query)
		assert.Equal(t, want[1], got["offset"], query)
	}
}
