package line

import "testing"

func TestValidateSignature(t *testing.T) {
	secret := "test-channel-secret"
	body := []byte(`{"events":[]}`)

	sig := Sign(secret, body)
	if !ValidateSignature(secret, body, sig) {
		t.Fatal("valid signature rejected")
	}

	if ValidateSignature(secret, []byte(`{"events":[{}]}`), sig) {
		t.Error("signature accepted for a different body")
	}
	if ValidateSignature("other-secret", body, sig) {
		t.Error("signature accepted with wrong secret")
	}
	if ValidateSignature(secret, body, "not-base64!!") {
		t.Error("malformed signature accepted")
	}
	if ValidateSignature(secret, body, "") {
		t.Error("empty signature accepted")
	}
	if ValidateSignature("", body, sig) {
		t.Error("empty secret accepted")
	}
}
