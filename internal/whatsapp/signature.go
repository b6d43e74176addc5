package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// Sign returns the header value ("sha256=<hex>") for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid signature of body. An
// empty secret never verifies.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want := strings.TrimPrefix(Sign(secret, body), "sha256=")
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}
