package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// LocalBus is an in-process bus for single-node deployments. Messages
// published while nobody is subscribed are dropped.
type LocalBus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

func NewLocalBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: subscriberBuffer},
			newWatermillLogger(logger),
		),
		logger: logger,
	}
}

func (b *LocalBus) Publish(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(Topic(m.DemoID), msg); err != nil {
		return fmt.Errorf("publish %s: %w", Topic(m.DemoID), err)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, demoID string) (<-chan Message, error) {
	if err := ValidateDemoID(demoID); err != nil {
		return nil, err
	}
	msgs, err := b.pubsub.Subscribe(ctx, Topic(demoID))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic(demoID), err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var m Message
			err := json.Unmarshal(msg.Payload, &m)
			msg.Ack()
			if err != nil {
				b.logger.Warn("dropping undecodable broadcast", zap.String("demo_id", demoID), zap.Error(err))
				continue
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

func (b *LocalBus) Close() error {
	return b.pubsub.Close()
}

// watermillLogger routes watermill's internal logging into zap.
type watermillLogger struct {
	logger *zap.Logger
}

func newWatermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	return watermillLogger{logger: logger.Named("watermill")}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Trace is folded into debug.
func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
