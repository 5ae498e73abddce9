package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/auth"
	"github.com/valbows/domo-webhooks/internal/broadcast"
	"github.com/valbows/domo-webhooks/internal/config"
	"github.com/valbows/domo-webhooks/internal/handlers"
	"github.com/valbows/domo-webhooks/internal/ingest"
	"github.com/valbows/domo-webhooks/internal/metrics"
	"github.com/valbows/domo-webhooks/internal/store"
)

// Deps are the components the router serves.
type Deps struct {
	Store       store.Store
	Pipeline    *ingest.Pipeline
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewRouter wires public endpoints and the authenticated webhook.
// Public: /health, /ready, /metrics, analytics, CTA tracking, realtime
// Authenticated: the provider webhook (signature or token)
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(d.Logger))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	verifier := auth.NewVerifier(auth.Secrets{
		HMACSecret:  cfg.WebhookSecret.Value(),
		TokenSecret: cfg.WebhookToken.Value(),
	})
	limiter := newIPRateLimiter(cfg.RatePerSecond, cfg.RateBurst)

	// Webhook group: IPs that keep failing authentication are refused before
	// their bodies are read.
	webhooks := r.Group("/")
	webhooks.Use(limiter.middleware(d.Logger))
	webhooks.Use(auth.SignatureMiddleware(verifier, cfg.MaxBodyBytes, d.Logger))
	handlers.RegisterWebhookRoutes(webhooks, d.Pipeline)

	handlers.RegisterCTARoutes(r, d.Store, d.Logger)
	handlers.RegisterAnalyticsRoutes(r, d.Store)
	handlers.RegisterRealtimeRoutes(r, d.Broadcaster, d.Logger)

	return r
}

const requestIDHeader = "X-Request-ID"

// requestID propagates the caller's request ID or assigns one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if path == "/health" || path == "/ready" || path == "/metrics" {
			logger.Debug("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
