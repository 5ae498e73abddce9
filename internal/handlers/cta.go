package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/models"
)

// CTARecorder stores CTA clicks.
type CTARecorder interface {
	UpsertCTAClick(ctx context.Context, c models.CTAClick) error
}

// RegisterCTARoutes registers the browser-side click tracker.
//
// POST /api/track-cta-click
// - conversation_id and demo_id are required
// - Repeated clicks on the same destination refresh the existing row
func RegisterCTARoutes(r gin.IRoutes, st CTARecorder, logger *zap.Logger) {
	r.POST("/api/track-cta-click", func(c *gin.Context) {
		var req models.CTAClickRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		req.ConversationID = strings.TrimSpace(req.ConversationID)
		req.DemoID = strings.TrimSpace(req.DemoID)
		if req.ConversationID == "" || req.DemoID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and demo_id required"})
			return
		}

		userAgent := req.UserAgent
		if userAgent == "" {
			userAgent = c.GetHeader("User-Agent")
		}

		err := st.UpsertCTAClick(c.Request.Context(), models.CTAClick{
			ConversationID: req.ConversationID,
			DemoID:         req.DemoID,
			CTAURL:         strings.TrimSpace(req.CTAURL),
			UserAgent:      userAgent,
			IPAddress:      c.ClientIP(),
			ClickedAt:      time.Now().UTC(),
		})
		if err != nil {
			logger.Error("recording cta click failed",
				logging.Category(logging.CategoryPersistenceFailure),
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}
