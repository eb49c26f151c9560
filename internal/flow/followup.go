package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hoshiyomi/uranaibot/internal/messaging"
	"github.com/hoshiyomi/uranaibot/internal/models"
	"github.com/hoshiyomi/uranaibot/internal/store"
)

// JobKindProfileFollowUp is the durable job kind for the deferred nudge sent
// after the profile reading.
const JobKindProfileFollowUp = "profile_followup"

// OutboxKindReading tags outbox messages carrying generated readings.
const OutboxKindReading = "reading"

type followUpPayload struct {
	UserID string `json:"user_id"`
}

// ReadingPayload is the outbox payload for a generated reading delivery.
type ReadingPayload struct {
	UserID  string                 `json:"user_id"`
	Message models.OutboundMessage `json:"message"`
}

// HandleFollowUpJob executes a scheduled follow-up: it re-reads the session
// and nudges the user only if they are still parked on the profile reading.
// Users who moved on, closed out, or were never created are skipped.
func (e *Engine) HandleFollowUpJob(ctx context.Context, payload string) error {
	var p followUpPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("decode follow-up payload: %w", err)
	}
	if p.UserID == "" {
		return fmt.Errorf("follow-up payload missing user id")
	}

	sess, err := e.store.GetSession(p.UserID)
	if err != nil {
		return fmt.Errorf("follow-up session read: %w", err)
	}
	if sess == nil || sess.Closed || sess.Phase != models.PhaseProfileComplete {
		slog.Debug("flow follow-up skipped", "userID", p.UserID)
		return nil
	}

	msg := unlockQuickReply(msgFollowUp)
	if e.outbox != nil {
		body, err := json.Marshal(ReadingPayload{UserID: p.UserID, Message: msg})
		if err != nil {
			return fmt.Errorf("encode follow-up message: %w", err)
		}
		if _, err := e.outbox.EnqueueOutboxMessage(p.UserID, OutboxKindReading, string(body), "followup-push:"+p.UserID); err != nil {
			return fmt.Errorf("enqueue follow-up push: %w", err)
		}
		slog.Debug("flow follow-up push enqueued", "userID", p.UserID)
		return nil
	}
	if err := e.responder.Push(ctx, p.UserID, msg); err != nil {
		return fmt.Errorf("send follow-up push: %w", err)
	}
	return nil
}

// NewOutboxSendFunc adapts a Responder into the callback the OutboxSender
// drives: it decodes a reading payload and pushes it to the user.
func NewOutboxSendFunc(responder messaging.Responder) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var p ReadingPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decode outbox payload: %w", err)
		}
		if p.UserID == "" {
			return fmt.Errorf("outbox payload missing user id")
		}
		return responder.Push(ctx, p.UserID, p.Message)
	}
}
