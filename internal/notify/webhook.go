package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"smsrelay/internal/external"
	"smsrelay/internal/types"
)

// Compile-time assertion that WebhookChannel implements Channel.
var _ Channel = (*WebhookChannel)(nil)

// WebhookChannelConfig holds the configuration for creating a WebhookChannel.
type WebhookChannelConfig struct {
	URL    string
	Clock  types.Clock
	Logger *slog.Logger
}

// WebhookChannel POSTs alerts as a generic JSON document to a configured
// endpoint, for wiring into home-automation or chat systems.
type WebhookChannel struct {
	base   *external.BaseClient
	url    string
	clock  types.Clock
	logger *slog.Logger
}

// NewWebhookChannel creates a WebhookChannel over the given http client.
func NewWebhookChannel(httpClient *http.Client, cfg WebhookChannelConfig) *WebhookChannel {
	base := external.NewBaseClient(httpClient, "webhook", external.DefaultRetryPolicy(), "smsrelay/1.0")
	return NewWebhookChannelWithBase(base, cfg)
}

// NewWebhookChannelWithBase creates a WebhookChannel with a pre-configured
// BaseClient.
func NewWebhookChannelWithBase(base *external.BaseClient, cfg WebhookChannelConfig) *WebhookChannel {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{base: base, url: cfg.URL, clock: clock, logger: logger}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// webhookPayload is the generic JSON document posted to the endpoint.
type webhookPayload struct {
	Category Category       `json:"category"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Message  *types.Message `json:"message,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Send implements Channel. Any 2xx response counts as accepted.
func (c *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(webhookPayload{
		Category: alert.Category,
		Title:    alert.Title,
		Body:     alert.Body,
		Message:  alert.Message,
		SentAt:   c.clock.Now(),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "encoding webhook payload failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "building webhook request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "webhook request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return types.NewAppErrorWithDetails(types.ErrCodeNotifyFailed, "webhook endpoint rejected the alert", nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}
	return nil
}
