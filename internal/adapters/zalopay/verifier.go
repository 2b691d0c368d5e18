package zalopay

import (
	"crypto/hmac"
	"strings"
)

// CallbackVerifier authenticates gateway callbacks with the callback key (key2).
type CallbackVerifier struct {
	key2 string
}

// NewCallbackVerifier creates a verifier for the given callback key.
func NewCallbackVerifier(key2 string) *CallbackVerifier {
	return &CallbackVerifier{key2: key2}
}

// Verify reports whether providedMAC is the HMAC-SHA256 of rawData under key2.
// rawData must be the exact string the gateway sent, before any parsing.
func (v *CallbackVerifier) Verify(rawData, providedMAC string) bool {
	if v.key2 == "" || rawData == "" || providedMAC == "" {
		return false
	}

	expected := Sign(v.key2, rawData)

	// Compare signatures (constant-time comparison)
	return hmac.Equal([]byte(strings.ToLower(providedMAC)), []byte(expected))
}
