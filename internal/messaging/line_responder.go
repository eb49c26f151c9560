package messaging

import (
	"context"
	"log/slog"

	"github.com/hoshiyomi/uranaibot/internal/line"
	"github.com/hoshiyomi/uranaibot/internal/models"
)

// Loading indicator duration in seconds. The platform accepts 5-60 in
// increments of 5; generation usually finishes well within this.
const loadingSeconds = 20

// LINEResponder delivers messages over the LINE Messaging API.
type LINEResponder struct {
	client *line.Client
}

var _ Responder = (*LINEResponder)(nil)

// NewLINEResponder wraps a LINE client as a Responder.
func NewLINEResponder(client *line.Client) *LINEResponder {
	return &LINEResponder{client: client}
}

// Reply sends via the reply token, falling back to push when the token is
// missing or the reply call fails. Reply tokens are single-use and expire
// quickly, so a failed reply is recoverable while a dropped message is not.
func (r *LINEResponder) Reply(ctx context.Context, replyToken, userID string, messages ...models.OutboundMessage) error {
	if replyToken != "" {
		err := r.client.Reply(ctx, replyToken, messages...)
		if err == nil {
			return nil
		}
		slog.Debug("LINEResponder.Reply falling back to push", "userID", userID, "error", err)
	}
	return r.client.Push(ctx, userID, messages...)
}

// Push sends messages directly to the user.
func (r *LINEResponder) Push(ctx context.Context, userID string, messages ...models.OutboundMessage) error {
	return r.client.Push(ctx, userID, messages...)
}

// ShowActivity displays the typing indicator.
func (r *LINEResponder) ShowActivity(ctx context.Context, userID string) error {
	return r.client.ShowLoading(ctx, userID, loadingSeconds)
}
