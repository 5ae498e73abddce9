package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerify_HMACRoundTrip(t *testing.T) {
	v := NewVerifier(Secrets{HMACSecret: "whsec_test"})

	bodies := [][]byte{
		[]byte(`{}`),
		[]byte(`{"event_type":"application.qualification_data","conversation_id":"c1"}`),
		[]byte(""),
		[]byte("not json at all \x00\xff"),
	}
	for _, b := range bodies {
		assert.True(t, v.Verify(b, Sign(b, "whsec_test"), ""), "body %q", b)
	}
}

func TestVerify_SingleByteTamperFails(t *testing.T) {
	v := NewVerifier(Secrets{HMACSecret: "whsec_test"})
	body := []byte(`{"event_type":"conversation.tool_call","conversation_id":"c1"}`)
	sig := Sign(body, "whsec_test")

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		assert.False(t, v.Verify(tampered, sig, ""), "tamper at byte %d accepted", i)
	}
}

func TestVerify_SignatureEncodings(t *testing.T) {
	v := NewVerifier(Secrets{HMACSecret: "k"})
	body := []byte(`{"a":1}`)

	mac := hmac.New(sha256.New, []byte("k"))
	mac.Write(body)
	raw := mac.Sum(nil)

	assert.True(t, v.Verify(body, "sha256="+Sign(body, "k"), ""))
	assert.True(t, v.Verify(body, strings.ToUpper(Sign(body, "k")), ""))
	assert.True(t, v.Verify(body, base64.StdEncoding.EncodeToString(raw), ""))
	assert.False(t, v.Verify(body, "sha256=", ""))
	assert.False(t, v.Verify(body, "zz-not-a-signature", ""))
}

func TestVerify_Token(t *testing.T) {
	v := NewVerifier(Secrets{TokenSecret: "shared-token"})

	assert.True(t, v.Verify([]byte("anything"), "", "shared-token"))
	assert.False(t, v.Verify([]byte("anything"), "", "shared-token-2"))
	assert.False(t, v.Verify([]byte("anything"), "", ""))
}

func TestVerify_EitherCheckPasses(t *testing.T) {
	v := NewVerifier(Secrets{HMACSecret: "k", TokenSecret: "tok"})
	body := []byte(`{"x":true}`)

	assert.True(t, v.Verify(body, Sign(body, "k"), "wrong"))
	assert.True(t, v.Verify(body, Sign(body, "other"), "tok"))
	assert.False(t, v.Verify(body, Sign(body, "other"), "wrong"))
}

func TestVerify_NoSecretsRejectsEverything(t *testing.T) {
	v := NewVerifier(Secrets{})
	body := []byte(`{}`)

	assert.False(t, v.Verify(body, Sign(body, ""), ""))
	assert.False(t, v.Verify(body, "", ""))
}

func TestSignatureMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newEngine := func(v *Verifier) *gin.Engine {
		r := gin.New()
		r.POST("/hook", SignatureMiddleware(v, 1024, zap.NewNop()), func(c *gin.Context) {
			c.String(http.StatusOK, string(RawBody(c)))
		})
		return r
	}

	body := `{"event_type":"system.replica_joined",  "conversation_id":"c1"}`

	t.Run("passes raw body through unmodified", func(t *testing.T) {
		r := newEngine(NewVerifier(Secrets{HMACSecret: "k"}))
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		req.Header.Set("x-tavus-signature", Sign([]byte(body), "k"))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, rec.Body.String())
	})

	t.Run("accepts fallback signature headers", func(t *testing.T) {
		r := newEngine(NewVerifier(Secrets{HMACSecret: "k"}))
		for _, h := range []string{"tavus-signature", "x-signature"} {
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			req.Header.Set(h, Sign([]byte(body), "k"))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, h)
		}
	})

	t.Run("accepts token query parameter", func(t *testing.T) {
		r := newEngine(NewVerifier(Secrets{TokenSecret: "tok"}))
		for _, q := range []string{"t", "token"} {
			req := httptest.NewRequest(http.MethodPost, "/hook?"+q+"=tok", strings.NewReader(body))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, q)
		}
	})

	t.Run("rejects wrong secret with 401", func(t *testing.T) {
		r := newEngine(NewVerifier(Secrets{HMACSecret: "k"}))
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		req.Header.Set("x-tavus-signature", Sign([]byte(body), "not-k"))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		r := newEngine(NewVerifier(Secrets{HMACSecret: "k"}))
		big := strings.Repeat("a", 2048)
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(big))
		req.Header.Set("x-tavus-signature", Sign([]byte(big), "k"))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
