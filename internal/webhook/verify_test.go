package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := []byte("shh")
	payload := []byte("the quick brown fox")
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature(secret, payload, sig))
	assert.False(t, VerifySignature(secret, payload, "00"))
	assert.False(t, VerifySignature([]byte("wrong"), payload, sig))
}

func TestVerifySignatureInvalidHex(t *testing.T) {
	assert.False(t, VerifySignature([]byte("s"), []byte("p"), "not-hex!"))
}
