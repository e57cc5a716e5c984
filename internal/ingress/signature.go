package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var errBadSignature = errors.New("invalid webhook signature")

// verifySignature checks the HMAC-SHA256 of body under secret against a
// platform-supplied header value, in constant time. Forgejo sends raw hex;
// GitHub prefixes the hex digest with "sha256=".
func verifySignature(body []byte, secret string, header string) error {
	provided := strings.TrimSpace(header)
	if provided == "" {
		return errBadSignature
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(provided) != len(expected) || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return errBadSignature
	}
	return nil
}
