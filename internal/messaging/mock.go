package messaging

import (
	"context"
	"sync"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// SentMessage records one delivery made through the MockResponder.
type SentMessage struct {
	ReplyToken string
	UserID     string
	Messages   []models.OutboundMessage
	Pushed     bool
}

// MockResponder records deliveries for tests.
type MockResponder struct {
	mu        sync.Mutex
	sent      []SentMessage
	activity  []string
	ReplyErr  error
	PushErr   error
	ActivityE error
}

var _ Responder = (*MockResponder)(nil)

// NewMockResponder creates an empty recorder.
func NewMockResponder() *MockResponder {
	return &MockResponder{}
}

func (m *MockResponder) Reply(_ context.Context, replyToken, userID string, messages ...models.OutboundMessage) error {
	if m.ReplyErr != nil {
		return m.ReplyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{ReplyToken: replyToken, UserID: userID, Messages: messages})
	return nil
}

func (m *MockResponder) Push(_ context.Context, userID string, messages ...models.OutboundMessage) error {
	if m.PushErr != nil {
		return m.PushErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{UserID: userID, Messages: messages, Pushed: true})
	return nil
}

func (m *MockResponder) ShowActivity(_ context.Context, userID string) error {
	if m.ActivityE != nil {
		return m.ActivityE
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, userID)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (m *MockResponder) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// ActivityShown returns the users for whom the typing indicator was shown.
func (m *MockResponder) ActivityShown() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.activity))
	copy(out, m.activity)
	return out
}

// Reset clears all recorded deliveries.
func (m *MockResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.activity = nil
}
