// Package gateway implements the message source adapter for Netgear LM1200
// class modems. The device exposes a single JSON document at /api/model.json;
// reading the inbox requires a cookie session established by posting the admin
// password together with a security token scraped from the unauthenticated
// document.
//
// The adapter is stateless across calls: Fetch returns the device's full
// current inbox view every time. Failures are classified into the relay
// taxonomy so the poll controller can decide between retrying and aborting:
// network errors and 5xx responses are transient, while rejected credentials,
// a missing security token, or an unparsable document are permanent.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"smsrelay/internal/external"
	"smsrelay/internal/types"
)

// Compile-time assertion that Client implements types.MessageSource.
var _ types.MessageSource = (*Client)(nil)

const userAgent = "smsrelay/1.0"

// maxErrorBodyBytes bounds how much of an error response is kept for logs.
const maxErrorBodyBytes = 512

// Client talks to one modem. Safe for sequential reuse; the relay runs one
// cycle at a time so no internal locking is needed.
type Client struct {
	base     *external.BaseClient
	apiURL   string
	loginURL string
	password types.SecretString
	logger   *slog.Logger
}

// ClientConfig holds the settings for creating a gateway Client.
type ClientConfig struct {
	// Host is the modem address, host or host:port.
	Host string
	// AdminPassword is the device admin password.
	AdminPassword types.SecretString
	// Timeout bounds each HTTP attempt. Defaults to 10s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a gateway Client. HTTP-level retries are disabled here;
// the poll controller owns the fetch retry schedule.
func NewClient(cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The device session lives in a cookie set by the login form.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "cookie jar init failed", err)
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Jar:     jar,
		// The login form answers with a redirect on success; following it
		// would re-fetch the UI page for nothing.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{
		base:     external.NewBaseClient(httpClient, "gateway", external.NoRetryPolicy(), userAgent),
		apiURL:   fmt.Sprintf("http://%s/api/model.json", cfg.Host),
		loginURL: fmt.Sprintf("http://%s/Forms/config", cfg.Host),
		password: cfg.AdminPassword,
		logger:   logger,
	}, nil
}

// modelDocument is the subset of /api/model.json the relay reads.
type modelDocument struct {
	Session struct {
		SecToken string `json:"secToken"`
	} `json:"session"`
	SMS struct {
		// Msgs entries are decoded one by one in Fetch: a single garbled
		// entry must not poison the whole inbox.
		Msgs []json.RawMessage `json:"msgs"`
	} `json:"sms"`
}

// rawMessage is one inbox entry as the device reports it. The id arrives as a
// JSON string on some firmware revisions, so it is parsed leniently.
type rawMessage struct {
	ID     json.Number `json:"id"`
	Sender string      `json:"sender"`
	RxTime string      `json:"rxTime"`
	Text   string      `json:"text"`
	Read   bool        `json:"read"`
}

// Fetch logs in and returns the device's current inbox view, oldest entry
// order preserved as reported.
func (c *Client) Fetch(ctx context.Context) ([]types.Message, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	doc, err := c.getModel(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(doc.SMS.Msgs))
	for _, entry := range doc.SMS.Msgs {
		var raw rawMessage
		if err := json.Unmarshal(entry, &raw); err != nil {
			c.logger.WarnContext(ctx, "skipping unparsable inbox entry", "error", err)
			continue
		}
		id, err := raw.ID.Int64()
		if err != nil {
			c.logger.WarnContext(ctx, "skipping unparsable inbox entry",
				"raw_id", raw.ID.String(),
				"error", err,
			)
			continue
		}
		messages = append(messages, types.Message{
			ID:         id,
			Sender:     raw.Sender,
			ReceivedAt: raw.RxTime,
			Content:    raw.Text,
			Read:       raw.Read,
		})
	}

	c.logger.DebugContext(ctx, "inbox fetched", "count", len(messages))
	return messages, nil
}

// Probe checks that the device answers at all. Used by the optional active
// health check; it does not authenticate.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.getModel(ctx)
	return err
}

// login establishes the cookie session: scrape the security token from the
// unauthenticated document, then post it with the admin password.
func (c *Client) login(ctx context.Context) error {
	if c.password.Unmask() == "" {
		return types.NewAppError(types.ErrCodeFetchPermanent, "gateway admin password is not set", nil)
	}

	doc, err := c.getModel(ctx)
	if err != nil {
		return err
	}
	if doc.Session.SecToken == "" {
		return types.NewAppError(types.ErrCodeFetchPermanent, "no security token in gateway response", nil)
	}

	form := url.Values{}
	form.Set("session.password", c.password.Unmask())
	form.Set("token", doc.Session.SecToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "building login request failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return err // already classified transient by the BaseClient
	}
	defer resp.Body.Close()

	// The form answers 200, 204, or a 302 back to the UI on success.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusFound:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return types.NewAppErrorWithDetails(
			types.ErrCodeFetchPermanent,
			"gateway rejected login",
			nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)},
		)
	}
}

// getModel fetches and decodes /api/model.json. The device serves JSON with a
// text/plain content type, so the body is decoded regardless of headers.
func (c *Client) getModel(ctx context.Context) (*modelDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "building model request failed", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		code := types.ErrCodeFetchPermanent
		if resp.StatusCode == http.StatusRequestTimeout {
			code = types.ErrCodeFetchTransient
		}
		return nil, types.NewAppErrorWithDetails(
			code,
			"gateway returned unexpected status",
			nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)},
		)
	}

	var doc modelDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, types.NewAppError(types.ErrCodeFetchPermanent, "gateway response is not valid JSON", err)
	}
	return &doc, nil
}
