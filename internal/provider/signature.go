package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/frahmantamala/spotpay-billing/internal"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body unless a
// provider config names another header.
const SignatureHeader = "X-Signature"

// Sign returns the signature a provider sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the header value against the body. An empty secret
// never verifies.
func VerifySignature(secret string, header http.Header, name string, body []byte) error {
	if secret == "" {
		return internal.ErrInvalidSignature.WithMessage("provider has no callback secret configured")
	}
	got := strings.TrimPrefix(strings.TrimSpace(header.Get(name)), "sha256=")
	if got == "" {
		return internal.ErrInvalidSignature
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return internal.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return internal.ErrInvalidSignature
	}
	return nil
}
