package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/metrics"
)

// Broadcaster publishes demo events. Publishing is fire-and-forget: callers
// never see a transport error, it is logged and counted here instead.
type Broadcaster struct {
	bus     Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewBroadcaster(bus Bus, logger *zap.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{bus: bus, logger: logger, metrics: m}
}

func (b *Broadcaster) Publish(ctx context.Context, demoID string, event EventName, payload map[string]any) {
	fields := []zap.Field{
		zap.String("demo_id", demoID),
		zap.String("event", string(event)),
	}

	if !event.Valid() {
		b.metrics.ObserveBroadcast(string(event), "invalid")
		b.logger.Warn("refusing to broadcast unknown event", append(fields, logging.Category(logging.CategoryBroadcastFailure))...)
		return
	}
	if err := ValidateDemoID(demoID); err != nil {
		b.metrics.ObserveBroadcast(string(event), "invalid")
		b.logger.Warn("refusing to broadcast", append(fields, logging.Category(logging.CategoryBroadcastFailure), zap.Error(err))...)
		return
	}

	err := b.bus.Publish(ctx, Message{DemoID: demoID, Event: event, Payload: payload})
	if err != nil {
		b.metrics.ObserveBroadcast(string(event), "error")
		b.logger.Warn("broadcast failed", append(fields, logging.Category(logging.CategoryBroadcastFailure), zap.Error(err))...)
		return
	}

	b.metrics.ObserveBroadcast(string(event), "ok")
	b.logger.Debug("broadcast published", fields...)
}

// Subscribe exposes the underlying bus to the realtime endpoint.
func (b *Broadcaster) Subscribe(ctx context.Context, demoID string) (<-chan Message, error) {
	return b.bus.Subscribe(ctx, demoID)
}
