package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutboxSenderPollSendsQueuedMessage(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	var sent []OutboxMessage
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		sent = append(sent, msg)
		return nil
	}, time.Second)

	id, err := s.EnqueueOutboxMessage("user-a", "reading", `{"text":"hi"}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage: %v", err)
	}

	sender.Poll(context.Background())

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ID != id {
		t.Errorf("sent message ID = %q, want %q", sent[0].ID, id)
	}

	// A second poll finds nothing left.
	sender.Poll(context.Background())
	if len(sent) != 1 {
		t.Fatalf("second poll resent the message: %d sends", len(sent))
	}
}

func TestOutboxSenderPollRequeuesOnFailure(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	calls := 0
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		calls++
		return errors.New("network down")
	}, time.Second)

	id, err := s.EnqueueOutboxMessage("user-a", "reading", `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage: %v", err)
	}

	sender.Poll(context.Background())
	if calls != 1 {
		t.Fatalf("send calls = %d, want 1", calls)
	}

	// Backoff pushes the retry into the future; an immediate poll skips it.
	sender.Poll(context.Background())
	if calls != 1 {
		t.Fatalf("message retried before its backoff elapsed: %d calls", calls)
	}

	msgs, err := s.ClaimDueOutboxMessages(time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.ID == id {
			found = true
			if m.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", m.Attempts)
			}
			if m.LastError != "network down" {
				t.Errorf("lastError = %q", m.LastError)
			}
		}
	}
	if !found {
		t.Fatal("failed message not requeued")
	}
}

func TestOutboxSenderRecoverStaleMessages(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	if _, err := s.EnqueueOutboxMessage("user-a", "reading", `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage: %v", err)
	}
	// Simulate a crash mid-send by claiming without resolving.
	if _, err := s.ClaimDueOutboxMessages(time.Now().Add(-time.Hour), 10); err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}

	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error { return nil }, time.Second)
	if err := sender.RecoverStaleMessages(); err != nil {
		t.Fatalf("RecoverStaleMessages: %v", err)
	}

	msgs, err := s.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil {
		t.Fatalf("claim after recovery: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("claimable after recovery = %d, want 1", len(msgs))
	}
}

func TestOutboxSenderRunStopsOnCancel(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error { return nil }, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
