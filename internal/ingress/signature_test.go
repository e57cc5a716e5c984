package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsForgejoStyle(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign("s3cret", body)
	if err := verifySignature(body, "s3cret", sig); err != nil {
		t.Fatalf("verifySignature: %v", err)
	}
}

func TestVerifySignatureAcceptsGitHubPrefix(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := "sha256=" + sign("s3cret", body)
	if err := verifySignature(body, "s3cret", sig); err != nil {
		t.Fatalf("verifySignature: %v", err)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign("s3cret", body)
	if err := verifySignature(body, "wrong", sig); err == nil {
		t.Fatal("expected error for mismatched secret, got nil")
	}
}

func TestVerifySignatureRejectsEmptyHeader(t *testing.T) {
	if err := verifySignature([]byte("x"), "s3cret", ""); err == nil {
		t.Fatal("expected error for empty signature header, got nil")
	}
}
