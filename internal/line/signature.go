// Package line implements the LINE Messaging API surface the bot needs:
// webhook signature verification, webhook event parsing, and an HTTP client
// for reply, push and loading-indicator calls.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// ValidateSignature verifies the X-Line-Signature header against the raw
// request body. The signature is the base64-encoded HMAC-SHA256 of the body
// keyed with the channel secret.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// Sign computes the signature for a body. Used by tests and by the payment
// webhook verifier, which follows the same scheme.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
