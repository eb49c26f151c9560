// Package messaging abstracts outbound message delivery so the flow engine
// does not depend on a specific chat platform.
package messaging

import (
	"context"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// Responder delivers messages to a user.
type Responder interface {
	// Reply answers an inbound event using its reply token when the
	// platform supports one. Implementations fall back to Push when the
	// token is empty, expired, or rejected.
	Reply(ctx context.Context, replyToken, userID string, messages ...models.OutboundMessage) error

	// Push sends messages to a user outside any inbound exchange.
	Push(ctx context.Context, userID string, messages ...models.OutboundMessage) error

	// ShowActivity signals that the bot is working on a response. Failures
	// are cosmetic and callers may ignore them.
	ShowActivity(ctx context.Context, userID string) error
}
