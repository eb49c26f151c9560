// Package genai provides the generation client for reading text, backed by
// the OpenAI chat completions API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hoshiyomi/uranaibot/internal/models"
	"github.com/hoshiyomi/uranaibot/internal/util"
)

// Default client configuration.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 30 * time.Second
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.8

	backoffBase = time.Second
	backoffMax  = 10 * time.Second
)

// completionService is the minimal chat completions surface the client
// needs, satisfied by the OpenAI SDK and by test fakes.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the generation client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	CallTimeout time.Duration
	MaxAttempts int
}

// Option defines a configuration option for the generation client.
type Option func(*Opts)

// WithAPIKey sets the API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API endpoint (for proxies and tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithCallTimeout sets the hard per-attempt timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Opts) { o.CallTimeout = d }
}

// WithMaxAttempts sets the bounded attempt count for transient failures.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// Client calls the generation backend with bounded retries, backoff with
// jitter, and a hard per-call timeout.
type Client struct {
	completions completionService
	model       string
	callTimeout time.Duration
	maxAttempts int
}

// NewClient creates a generation client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("genai client created", "model", cfg.Model, "callTimeout", cfg.CallTimeout, "maxAttempts", cfg.MaxAttempts)
	return &Client{
		completions: &cli.Chat.Completions,
		model:       cfg.Model,
		callTimeout: cfg.CallTimeout,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Generate runs the structured request against the backend and returns the
// generated text. Transient failures (timeouts, 429, 5xx) are retried with
// exponential backoff and jitter; exhausted retries return an error wrapping
// models.ErrGenerationFailed so callers can produce a user-facing apology
// without exposing upstream detail.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(DefaultTemperature),
		MaxTokens:   openai.Int(DefaultMaxTokens),
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := util.JitteredBackoff(backoffBase, attempt-1, backoffMax)
			slog.Debug("genai Generate retrying", "kind", req.Kind, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, ctx.Err())
			case <-time.After(wait):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		resp, err := c.completions.New(callCtx, params)
		cancel()

		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			if !isRetryable(err) {
				slog.Error("genai Generate terminal failure", "kind", req.Kind, "attempt", attempt, "error", err)
				break
			}
			slog.Warn("genai Generate transient failure", "kind", req.Kind, "attempt", attempt, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no choices returned")
			slog.Warn("genai Generate empty response", "kind", req.Kind, "attempt", attempt)
			continue
		}

		text := resp.Choices[0].Message.Content
		slog.Debug("genai Generate succeeded", "kind", req.Kind, "attempt", attempt, "output_length", len(text))
		return text, nil
	}

	return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, lastErr)
}

// isRetryable classifies an error as a transient upstream failure.
// API errors with 429 or 5xx status are retryable; other API errors
// (auth, bad request) are terminal. Non-API errors are treated as network
// problems and retried.
func isRetryable(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	return true
}
