package util

import (
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("r_", 32)
	if len(id) != 34 {
		t.Errorf("id length = %d, want 34", len(id))
	}
	if id[:2] != "r_" {
		t.Errorf("id prefix = %q, want \"r_\"", id[:2])
	}
	if id == GenerateRandomID("r_", 32) {
		t.Error("two generated IDs should not collide")
	}
}

func TestGenerateRandomHex(t *testing.T) {
	if GenerateRandomHex(0) != "" {
		t.Error("zero length must yield empty string")
	}
	hex := GenerateRandomHex(16)
	for _, c := range hex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("non-hex character %q in %q", c, hex)
		}
	}
}

func TestJitteredBackoff(t *testing.T) {
	max := 30 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		d := JitteredBackoff(time.Second, attempt, max)
		if d <= 0 {
			t.Errorf("attempt %d: non-positive backoff %v", attempt, d)
		}
		if d > max {
			t.Errorf("attempt %d: backoff %v exceeds max %v", attempt, d, max)
		}
	}
	// Minimum for attempt 2 is 4s before jitter.
	if d := JitteredBackoff(time.Second, 2, max); d < 4*time.Second {
		t.Errorf("attempt 2 backoff %v below base progression", d)
	}
}
