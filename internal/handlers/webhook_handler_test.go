package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPurpose services.AdPurpose = "test"

func newWebhookApp(t *testing.T, secret string) (*fiber.App, *services.AdService, *int) {
	t.Helper()
	ads := services.NewAdService(services.NewMemoryAdSessionStore(), time.Minute, nil, nil)
	redeemed := 0
	ads.Handle(testPurpose, func(context.Context, services.AdSession) error {
		redeemed++
		return nil
	})
	app := fiber.New()
	app.Post("/webhooks/ads", NewWebhookHandler(ads, secret).HandleAdCompletion)
	return app, ads, &redeemed
}

func postWebhook(t *testing.T, app *fiber.App, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ads", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestWebhookHandler_RedeemsSignedSessionOnce(t *testing.T) {
	app, ads, redeemed := newWebhookApp(t, "shh")
	session, err := ads.Begin(context.Background(), uuid.New(), testPurpose, "ref")
	require.NoError(t, err)

	body := `{"session_id":"` + session.ID + `","transaction_id":"tx-1","signature":"` +
		SignAdSession([]byte("shh"), session.ID) + `"}`

	status, out := postWebhook(t, app, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["redeemed"])

	status, out = postWebhook(t, app, body)
	assert.Equal(t, fiber.StatusOK, status, "replays are acknowledged")
	assert.Equal(t, false, out["redeemed"])
	assert.Equal(t, 1, *redeemed)
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	app, ads, redeemed := newWebhookApp(t, "shh")
	session, err := ads.Begin(context.Background(), uuid.New(), testPurpose, "ref")
	require.NoError(t, err)

	status, _ := postWebhook(t, app, `{"session_id":"`+session.ID+`","signature":"`+SignAdSession([]byte("other"), session.ID)+`"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = postWebhook(t, app, `{"signature":"x"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Zero(t, *redeemed)
}

func TestWebhookHandler_DisabledWithoutSecret(t *testing.T) {
	app, _, _ := newWebhookApp(t, "")
	status, _ := postWebhook(t, app, `{"session_id":"s","signature":"x"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
}
