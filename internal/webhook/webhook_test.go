package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "topsecret"
	if err := verifySignature(sign(secret, body), body, secret); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	if err := verifySignature(sign("topsecret", body), body, "othersecret"); err == nil {
		t.Fatal("expected signature mismatch error")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "topsecret"
	sig := sign(secret, []byte(`{"ref":"refs/heads/main"}`))
	if err := verifySignature(sig, []byte(`{"ref":"refs/heads/evil"}`), secret); err == nil {
		t.Fatal("expected signature mismatch error for tampered body")
	}
}

func TestVerifySignature_MissingSecret(t *testing.T) {
	body := []byte(`{}`)
	if err := verifySignature(sign("x", body), body, ""); err == nil {
		t.Fatal("expected error when project has no webhook secret")
	}
}

func TestVerifySignature_MalformedHeader(t *testing.T) {
	body := []byte(`{}`)
	if err := verifySignature("not-a-signature", body, "secret"); err == nil {
		t.Fatal("expected error for malformed signature header")
	}
}
