package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the provider's HMAC over the raw request body.
const SignatureHeader = "X-Provider-Signature"

// ComputeSignature returns the hex-encoded HMAC-SHA256 of body under secret.
func ComputeSignature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the claimed signature against the body using a
// constant-time comparison. The claimed value is decoded from hex first so
// the comparison runs over raw MAC bytes.
func VerifySignature(secret, body []byte, claimed string) bool {
	claimedMAC, err := hex.DecodeString(claimed)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), claimedMAC)
}
