package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// SignatureHeader carries the Meta webhook signature.
const SignatureHeader = "X-Hub-Signature-256"

// VerifyMetaSignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body keyed with the app secret. The comparison is
// constant time.
func VerifyMetaSignature(body []byte, header http.Header, appSecret string) error {
	if appSecret == "" {
		return fmt.Errorf("%w: no app secret configured", ErrBadSignature)
	}
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrBadSignature, SignatureHeader)
	}
	hexSig, ok := strings.CutPrefix(sig, "sha256=")
	if !ok {
		return fmt.Errorf("%w: malformed signature header", ErrBadSignature)
	}
	want, err := hex.DecodeString(hexSig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature hex", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// MetaChallenge answers the Meta webhook subscription handshake. It returns
// the challenge to echo, or an error when the verify token does not match.
func MetaChallenge(query map[string][]string, verifyToken string) (string, error) {
	get := func(k string) string {
		if v := query[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if get("hub.mode") != "subscribe" {
		return "", fmt.Errorf("unsupported hub.mode %q", get("hub.mode"))
	}
	if verifyToken == "" || get("hub.verify_token") != verifyToken {
		return "", fmt.Errorf("verify token mismatch")
	}
	return get("hub.challenge"), nil
}
