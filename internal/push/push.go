// Package push delivers notification records to devices.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var ErrNoToken = errors.New("no push token registered")

// Message is one device notification. CollapseKey identifies the record so
// the gateway and the OS replace rather than duplicate a redelivery.
type Message struct {
	CollapseKey string            `json:"collapse_key"`
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Channel     string            `json:"channel,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Channel delivers a message or reports why it could not.
type Channel interface {
	Deliver(ctx context.Context, msg Message) error
}

// HTTPGateway posts messages as JSON to a push relay.
type HTTPGateway struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPGateway(endpoint, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Deliver(ctx context.Context, msg Message) error {
	if msg.Token == "" {
		return ErrNoToken
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// LogChannel only logs deliveries. Used when no gateway is configured.
type LogChannel struct{}

func (LogChannel) Deliver(_ context.Context, msg Message) error {
	slog.Info("push delivery (log only)", "collapse_key", msg.CollapseKey, "title", msg.Title, "has_token", msg.Token != "")
	return nil
}
