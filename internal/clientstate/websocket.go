package clientstate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/broadcast"
)

// WebsocketSubscriber reads broadcasts from the service's realtime endpoint.
type WebsocketSubscriber struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewWebsocketSubscriber takes the service's HTTP base URL.
func NewWebsocketSubscriber(baseURL string, logger *zap.Logger) *WebsocketSubscriber {
	return &WebsocketSubscriber{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

func (w *WebsocketSubscriber) Subscribe(ctx context.Context, demoID string) (<-chan broadcast.Message, error) {
	u, err := RealtimeURL(w.baseURL, demoID)
	if err != nil {
		return nil, err
	}
	conn, _, err := w.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	out := make(chan broadcast.Message, 64)
	readerDone := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		case <-readerDone:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(readerDone)
		for {
			var m broadcast.Message
			if err := conn.ReadJSON(&m); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					w.logger.Warn("realtime stream ended", zap.String("demo_id", demoID), zap.Error(err))
				}
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RealtimeURL turns an http(s) base URL into the websocket URL for a demo.
func RealtimeURL(baseURL, demoID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/demos/" + url.PathEscape(demoID)
	return u.String(), nil
}
