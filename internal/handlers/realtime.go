package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/broadcast"
)

// Subscriber opens a broadcast stream for one demo.
type Subscriber interface {
	Subscribe(ctx context.Context, demoID string) (<-chan broadcast.Message, error)
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// RegisterRealtimeRoutes registers the websocket bridge from the demo topic to
// browsers.
//
// GET /realtime/demos/:demoId
// - Server push only; frames sent by the client are read and discarded
func RegisterRealtimeRoutes(r gin.IRoutes, sub Subscriber, logger *zap.Logger) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	r.GET("/realtime/demos/:demoId", func(c *gin.Context) {
		demoID := c.Param("demoId")
		if err := broadcast.ValidateDemoID(demoID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid demo id"})
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Subscribe before upgrading so that nothing published after the
		// client sees the handshake complete can be missed.
		msgs, err := sub.Subscribe(ctx, demoID)
		if err != nil {
			logger.Error("ws subscribe failed", zap.String("demo_id", demoID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		defer ws.Close()

		connID := uuid.NewString()
		log := logger.With(zap.String("demo_id", demoID), zap.String("conn_id", connID))
		log.Info("ws opened")
		defer log.Info("ws closed")

		go discardInbound(ws, cancel)

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(m); err != nil {
					log.Warn("ws send failed", zap.Error(err))
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})
}

// discardInbound drains client frames so control frames are processed, and
// cancels the stream once the client disconnects.
func discardInbound(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}
