package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Aegis-Signature"

// SignPayload computes the hex HMAC-SHA256 of a webhook body. Receivers
// recompute it over the raw bytes before parsing anything.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a received signature in constant time.
func VerifyPayload(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New("secret is required")
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("malformed signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return errors.New("signature mismatch")
	}
	return nil
}
