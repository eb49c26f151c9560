package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hoshiyomi/uranaibot/internal/models"
	"github.com/hoshiyomi/uranaibot/internal/util"
)

// Defaults for the messaging client.
const (
	DefaultAPIBaseURL  = "https://api.line.me"
	DefaultHTTPTimeout = 10 * time.Second
	DefaultSendRetries = 2

	replyEndpoint   = "/v2/bot/message/reply"
	pushEndpoint    = "/v2/bot/message/push"
	loadingEndpoint = "/v2/bot/chat/loading/start"

	sendBackoffBase = 500 * time.Millisecond
	sendBackoffMax  = 5 * time.Second
)

// Opts holds configuration for the messaging client.
type Opts struct {
	ChannelToken string
	BaseURL      string
	HTTPClient   *http.Client
	MaxRetries   int
}

// Option configures the messaging client.
type Option func(*Opts)

// WithChannelToken sets the channel access token used for API calls.
func WithChannelToken(token string) Option {
	return func(o *Opts) { o.ChannelToken = token }
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithMaxRetries sets how many times a failed send is retried.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// Client calls the LINE Messaging API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a messaging client. The channel token falls back to the
// LINE_CHANNEL_TOKEN environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChannelToken == "" {
		cfg.ChannelToken = os.Getenv("LINE_CHANNEL_TOKEN")
	}
	if cfg.ChannelToken == "" {
		return nil, fmt.Errorf("channel token not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSendRetries
	}
	slog.Debug("line.NewClient", "baseURL", cfg.BaseURL, "maxRetries", cfg.MaxRetries)
	return &Client{
		token:      cfg.ChannelToken,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
	}, nil
}

type replyRequest struct {
	ReplyToken string                   `json:"replyToken"`
	Messages   []models.OutboundMessage `json:"messages"`
}

type pushRequest struct {
	To       string                   `json:"to"`
	Messages []models.OutboundMessage `json:"messages"`
}

type loadingRequest struct {
	ChatID         string `json:"chatId"`
	LoadingSeconds int    `json:"loadingSeconds,omitempty"`
}

// Reply sends messages bound to a reply token. A reply token is single-use
// and short-lived; callers fall back to Push when the reply fails.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...models.OutboundMessage) error {
	if replyToken == "" {
		return fmt.Errorf("empty reply token")
	}
	if len(messages) == 0 {
		return fmt.Errorf("no messages to send")
	}
	return c.post(ctx, replyEndpoint, replyRequest{ReplyToken: replyToken, Messages: messages})
}

// Push sends messages directly to a user, independent of any reply token.
func (c *Client) Push(ctx context.Context, userID string, messages ...models.OutboundMessage) error {
	if userID == "" {
		return fmt.Errorf("empty user ID")
	}
	if len(messages) == 0 {
		return fmt.Errorf("no messages to send")
	}
	return c.post(ctx, pushEndpoint, pushRequest{To: userID, Messages: messages})
}

// ShowLoading displays the typing indicator in the user's chat for up to
// loadingSeconds. Failures are returned but callers treat them as cosmetic.
func (c *Client) ShowLoading(ctx context.Context, userID string, loadingSeconds int) error {
	if userID == "" {
		return fmt.Errorf("empty user ID")
	}
	return c.post(ctx, loadingEndpoint, loadingRequest{ChatID: userID, LoadingSeconds: loadingSeconds})
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := util.JitteredBackoff(sendBackoffBase, attempt-1, sendBackoffMax)
			slog.Debug("line.Client retrying", "endpoint", endpoint, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		status, respBody, err := c.doPost(ctx, endpoint, body)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 200 && status < 300 {
			return nil
		}
		lastErr = fmt.Errorf("api status %d: %s", status, truncate(respBody, 200))
		if status < 500 {
			// 4xx is not retryable: bad token, expired reply token, or a
			// malformed message will not improve on retry.
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doPost(ctx context.Context, endpoint string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
