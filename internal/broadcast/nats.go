package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus carries broadcasts over NATS core subjects so that every API replica
// reaches every connected session.
type NATSBus struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// DialNATS connects to url and returns a bus that owns the connection.
func DialNATS(url string, logger *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("domo-webhooks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	bus := NewNATSBus(nc, logger)
	bus.owned = true
	return bus, nil
}

// NewNATSBus wraps an existing connection. Close leaves the connection open.
func NewNATSBus(nc *nats.Conn, logger *zap.Logger) *NATSBus {
	return &NATSBus{nc: nc, logger: logger}
}

func (b *NATSBus) Publish(_ context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := b.nc.Publish(Topic(m.DemoID), data); err != nil {
		return fmt.Errorf("publish %s: %w", Topic(m.DemoID), err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, demoID string) (<-chan Message, error) {
	if err := ValidateDemoID(demoID); err != nil {
		return nil, err
	}

	msgCh := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.nc.ChanSubscribe(Topic(demoID), msgCh)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic(demoID), err)
	}
	// Make sure the server knows about the interest before returning.
	if err := b.nc.FlushTimeout(2 * time.Second); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", Topic(demoID), err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() {
			_ = sub.Unsubscribe()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgCh:
				var m Message
				if err := json.Unmarshal(msg.Data, &m); err != nil {
					b.logger.Warn("dropping undecodable broadcast", zap.String("demo_id", demoID), zap.Error(err))
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.nc.Drain()
}
