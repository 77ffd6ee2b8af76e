package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"smsrelay/internal/external"
	"smsrelay/internal/types"
)

// telegramAPIBase is the default Telegram Bot API base URL. Overridable in
// tests via TelegramChannelConfig.BaseURL.
const telegramAPIBase = "https://api.telegram.org"

// maxErrorBodyBytes bounds how much of an error response is kept for logs.
const maxErrorBodyBytes = 512

// Compile-time assertion that TelegramChannel implements Channel.
var _ Channel = (*TelegramChannel)(nil)

// TelegramChannelConfig holds the configuration for creating a TelegramChannel.
type TelegramChannelConfig struct {
	BotToken types.SecretString
	ChatID   string
	BaseURL  string // override for testing; defaults to telegramAPIBase
	Logger   *slog.Logger
}

// TelegramChannel delivers alerts through the Telegram Bot API sendMessage
// method, routed through the BaseClient for retry and circuit breaking.
type TelegramChannel struct {
	base    *external.BaseClient
	token   types.SecretString
	chatID  string
	baseURL string
	logger  *slog.Logger
}

// NewTelegramChannel creates a TelegramChannel over the given http client.
func NewTelegramChannel(httpClient *http.Client, cfg TelegramChannelConfig) *TelegramChannel {
	base := external.NewBaseClient(httpClient, "telegram", external.DefaultRetryPolicy(), "smsrelay/1.0")
	return NewTelegramChannelWithBase(base, cfg)
}

// NewTelegramChannelWithBase creates a TelegramChannel with a pre-configured
// BaseClient. Useful in tests to disable retry sleeps.
func NewTelegramChannelWithBase(base *external.BaseClient, cfg TelegramChannelConfig) *TelegramChannel {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = telegramAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		base:    base,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Name implements Channel.
func (c *TelegramChannel) Name() string { return "telegram" }

// telegramSendRequest is the sendMessage payload.
type telegramSendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send implements Channel. Transient 429/5xx responses are retried inside the
// BaseClient; anything still failing here surfaces as a notify_failed error.
func (c *TelegramChannel) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(telegramSendRequest{
		ChatID: c.chatID,
		Text:   alert.Title + "\n" + alert.Body,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "encoding telegram payload failed", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token.Unmask())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "building telegram request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotifyFailed, "telegram request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return types.NewAppErrorWithDetails(types.ErrCodeNotifyFailed, "telegram rejected the message", nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}
	return nil
}
