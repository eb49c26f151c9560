package messaging

import (
	"strings"
	"testing"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

func TestRenderTextWithOptions(t *testing.T) {
	msg := models.NewQuickReplyMessage("続けますか？",
		models.MessageQuickReplyItem("もっと占う", "もっと占う"),
		models.MessageQuickReplyItem("結びの言葉", "結びの言葉"),
	)
	got := renderTextWithOptions(msg)
	if !strings.HasPrefix(got, "続けますか？") {
		t.Errorf("missing base text: %q", got)
	}
	if !strings.Contains(got, "1. もっと占う") || !strings.Contains(got, "2. 結びの言葉") {
		t.Errorf("options not numbered: %q", got)
	}
}

func TestRenderTextWithOptionsDropsURIItems(t *testing.T) {
	msg := models.NewQuickReplyMessage("購入はこちら",
		models.URIQuickReplyItem("購入ページ", "https://example.com/buy"),
	)
	got := renderTextWithOptions(msg)
	if got != "購入はこちら" {
		t.Errorf("URI item survived flattening: %q", got)
	}
}

func TestRenderTextPlainMessage(t *testing.T) {
	got := renderTextWithOptions(models.NewTextMessage("こんにちは"))
	if got != "こんにちは" {
		t.Errorf("plain text altered: %q", got)
	}
}

func TestNewTwilioResponderValidation(t *testing.T) {
	if _, err := NewTwilioResponder("", "token", "+15550001111"); err == nil {
		t.Error("expected error for missing account SID")
	}
	if _, err := NewTwilioResponder("AC123", "", "+15550001111"); err == nil {
		t.Error("expected error for missing auth token")
	}
	if _, err := NewTwilioResponder("AC123", "token", ""); err == nil {
		t.Error("expected error for missing from number")
	}
	if _, err := NewTwilioResponder("AC123", "token", "+15550001111"); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}
}
