package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/valbows/domo-webhooks/internal/broadcast"
	"github.com/valbows/domo-webhooks/internal/models"
)

// AnalyticsReader serves demo analytics snapshots.
type AnalyticsReader interface {
	DemoAnalytics(ctx context.Context, demoID string) (models.DemoAnalytics, error)
}

// RegisterAnalyticsRoutes registers the pull side of analytics_updated.
//
// GET /api/demos/:demoId/analytics
// - Returns counts per record type for the demo; unknown demos read as zeros
func RegisterAnalyticsRoutes(r gin.IRoutes, st AnalyticsReader) {
	r.GET("/api/demos/:demoId/analytics", func(c *gin.Context) {
		demoID := c.Param("demoId")
		if err := broadcast.ValidateDemoID(demoID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid demo id"})
			return
		}

		a, err := st.DemoAnalytics(c.Request.Context(), demoID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, a)
	})
}
