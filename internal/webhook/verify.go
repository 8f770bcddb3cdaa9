package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// VerifySignature reports whether signature (hex-encoded HMAC-SHA256)
// matches payload under secret, using constant-time comparison. Stdlib
// is the right tool here — no pack example ships a dedicated webhook
// signature library, and this is two calls into crypto/hmac.
func VerifySignature(secret []byte, payload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(want, got) == 1
}
