package line

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// webhookPayload mirrors the LINE webhook request body.
type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	ReplyToken string          `json:"replyToken"`
	Source     webhookSource   `json:"source"`
	Message    *webhookMessage `json:"message"`
}

type webhookSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseWebhook decodes a webhook body into inbound text events. Non-message
// events and non-text messages are skipped, not errors: the platform sends
// follows, stickers and images that the flow does not react to.
func ParseWebhook(body []byte) ([]models.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var events []models.InboundEvent
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message == nil || ev.Message.Type != "text" {
			slog.Debug("ParseWebhook skipping event", "type", ev.Type)
			continue
		}
		if ev.Source.UserID == "" {
			slog.Debug("ParseWebhook skipping event without user ID")
			continue
		}
		events = append(events, models.InboundEvent{
			UserID:     ev.Source.UserID,
			MessageID:  ev.Message.ID,
			ReplyToken: ev.ReplyToken,
			Text:       ev.Message.Text,
			Timestamp:  time.UnixMilli(ev.Timestamp),
		})
	}
	return events, nil
}
