package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/valbows/domo-webhooks/internal/auth"
	"github.com/valbows/domo-webhooks/internal/ingest"
	"github.com/valbows/domo-webhooks/internal/models"
)

// RegisterWebhookRoutes registers the provider callback endpoint.
//
// POST /webhooks/tavus (alias POST /api/tavus-webhook)
//   - Requires a valid signature or token (enforced by the group middleware)
//   - Idempotent: redeliveries are acknowledged with duplicate=true
//   - Always 200 once authenticated and well formed, even if a handler failed,
//     so the provider does not retry into the same failure
func RegisterWebhookRoutes(r gin.IRoutes, p *ingest.Pipeline) {
	h := func(c *gin.Context) {
		out, err := p.Ingest(c.Request.Context(), auth.RawBody(c))
		if errors.Is(err, ingest.ErrMalformed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
			return
		}

		c.JSON(http.StatusOK, models.WebhookAck{
			Received:  true,
			Status:    out.Status,
			EventID:   out.EventID,
			EventType: out.EventType,
			Duplicate: out.Duplicate,
			Error:     out.Error,
		})
	}

	r.POST("/webhooks/tavus", h)
	r.POST("/api/tavus-webhook", h)
}
