package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// TwilioResponder delivers messages over Twilio's WhatsApp channel. It exists
// for deployments that run the same flow on WhatsApp instead of LINE.
// WhatsApp has no reply tokens or quick-reply buttons, so replies degrade to
// pushes and quick replies to numbered text options.
type TwilioResponder struct {
	client     *twilio.RestClient
	fromNumber string
}

var _ Responder = (*TwilioResponder)(nil)

// NewTwilioResponder creates a responder sending from the given WhatsApp
// number (E.164, without the whatsapp: prefix).
func NewTwilioResponder(accountSID, authToken, fromNumber string) (*TwilioResponder, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio credentials not set")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("twilio from number not set")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioResponder{client: client, fromNumber: fromNumber}, nil
}

// Reply ignores the reply token and pushes.
func (r *TwilioResponder) Reply(ctx context.Context, _ string, userID string, messages ...models.OutboundMessage) error {
	return r.Push(ctx, userID, messages...)
}

// Push sends each message as a WhatsApp text.
func (r *TwilioResponder) Push(_ context.Context, userID string, messages ...models.OutboundMessage) error {
	for _, msg := range messages {
		body := renderTextWithOptions(msg)
		params := &openapi.CreateMessageParams{}
		params.SetFrom("whatsapp:" + r.fromNumber)
		params.SetTo("whatsapp:" + userID)
		params.SetBody(body)

		resp, err := r.client.Api.CreateMessage(params)
		if err != nil {
			slog.Error("TwilioResponder.Push failed", "userID", userID, "error", err)
			return fmt.Errorf("twilio send failed: %w", err)
		}
		if resp.Sid != nil {
			slog.Debug("TwilioResponder.Push sent", "userID", userID, "sid", *resp.Sid)
		}
	}
	return nil
}

// ShowActivity is a no-op: WhatsApp exposes no typing indicator over the
// Twilio API.
func (r *TwilioResponder) ShowActivity(context.Context, string) error { return nil }

// renderTextWithOptions flattens quick-reply buttons into numbered lines so
// the choices survive on a platform without buttons.
func renderTextWithOptions(msg models.OutboundMessage) string {
	filtered := models.FilterQuickReplyItems(msg, models.QuickActionMessage)
	if filtered.QuickReply == nil {
		return filtered.Text
	}
	var b strings.Builder
	b.WriteString(filtered.Text)
	for i, item := range filtered.QuickReply.Items {
		fmt.Fprintf(&b, "\n%d. %s", i+1, item.Action.Label)
	}
	return b.String()
}
