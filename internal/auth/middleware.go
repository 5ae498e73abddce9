package auth

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/logging"
)

// rawBodyCtxKey is the Gin context key holding the verified request body.
const rawBodyCtxKey = "raw_body"

// SignatureMiddleware reads the request body exactly once, verifies it and
// stores the untouched bytes for the handler. Re-serializing a parsed body
// would not reproduce the signed bytes, so handlers must use RawBody.
func SignatureMiddleware(v *Verifier, maxBytes int64, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		if !v.Verify(body, SignatureHeader(c.Request), TokenParam(c.Request)) {
			logger.Warn("webhook authentication failed",
				logging.Category(logging.CategoryAuthFailure),
				zap.String("client_ip", c.ClientIP()),
				zap.Bool("had_signature", SignatureHeader(c.Request) != ""),
				zap.Bool("had_token", TokenParam(c.Request) != ""),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(rawBodyCtxKey, body)
		c.Next()
	}
}

// RawBody returns the verified request body from the Gin context.
func RawBody(c *gin.Context) []byte {
	v, _ := c.Get(rawBodyCtxKey)
	b, _ := v.([]byte)
	return b
}
