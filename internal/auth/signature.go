package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// SignatureHeaders are checked in order; the first non-empty one is used.
var SignatureHeaders = []string{"x-tavus-signature", "tavus-signature", "x-signature"}

// TokenParams are the query parameters that may carry the shared-secret token.
var TokenParams = []string{"t", "token"}

// Secrets are the credentials a webhook may authenticate with.
type Secrets struct {
	HMACSecret  string
	TokenSecret string
}

// Verifier authenticates inbound webhook deliveries.
type Verifier struct {
	secrets Secrets
}

func NewVerifier(s Secrets) *Verifier {
	return &Verifier{secrets: s}
}

// Verify reports whether the raw body is authentic. A delivery passes when its
// HMAC-SHA256 signature matches or when it carries the shared token; providers
// that cannot sign fall back to the token. With no secret configured nothing
// passes.
func (v *Verifier) Verify(rawBody []byte, signatureHeader, tokenParam string) bool {
	if v.secrets.HMACSecret == "" && v.secrets.TokenSecret == "" {
		return false
	}
	return v.verifySignature(rawBody, signatureHeader) || v.verifyToken(tokenParam)
}

func (v *Verifier) verifySignature(rawBody []byte, header string) bool {
	if v.secrets.HMACSecret == "" || header == "" {
		return false
	}
	got, ok := decodeSignature(header)
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(v.secrets.HMACSecret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

func (v *Verifier) verifyToken(token string) bool {
	if v.secrets.TokenSecret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secrets.TokenSecret)) == 1
}

// decodeSignature accepts hex (optionally prefixed with "sha256=") or base64.
func decodeSignature(header string) ([]byte, bool) {
	s := strings.TrimSpace(header)
	s = strings.TrimPrefix(s, "sha256=")
	if s == "" {
		return nil, false
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == sha256.Size {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == sha256.Size {
		return b, true
	}
	return nil, false
}

// Sign returns the hex HMAC-SHA256 of body under secret, in the form the
// verifier accepts.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader returns the first signature header present on r.
func SignatureHeader(r *http.Request) string {
	for _, h := range SignatureHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

// TokenParam returns the first token query parameter present on r.
func TokenParam(r *http.Request) string {
	q := r.URL.Query()
	for _, p := range TokenParams {
		if v := q.Get(p); v != "" {
			return v
		}
	}
	return ""
}
