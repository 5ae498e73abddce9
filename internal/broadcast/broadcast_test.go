package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/valbows/domo-webhooks/internal/metrics"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return Message{}
	}
}

func assertClosed(t *testing.T, ch <-chan Message) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed")
		}
	}
}

func assertSilent(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected broadcast: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func busTests(t *testing.T, newBus func(t *testing.T) Bus) {
	t.Run("delivers to subscribers of the demo", func(t *testing.T) {
		bus := newBus(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := bus.Subscribe(ctx, "demo1")
		require.NoError(t, err)

		want := Message{DemoID: "demo1", Event: EventPlayVideo, Payload: map[string]any{"url": "https://cdn.example.com/v.mp4"}}
		require.NoError(t, bus.Publish(ctx, want))

		assert.Equal(t, want, receive(t, ch))
	})

	t.Run("topics are isolated", func(t *testing.T) {
		bus := newBus(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := bus.Subscribe(ctx, "demo1")
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, Message{DemoID: "demo2", Event: EventShowTrialCTA}))
		assertSilent(t, ch)
	})

	t.Run("fan out to every subscriber", func(t *testing.T) {
		bus := newBus(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := bus.Subscribe(ctx, "demo1")
		require.NoError(t, err)
		b, err := bus.Subscribe(ctx, "demo1")
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, Message{DemoID: "demo1", Event: EventAnalyticsUpdated}))
		assert.Equal(t, EventAnalyticsUpdated, receive(t, a).Event)
		assert.Equal(t, EventAnalyticsUpdated, receive(t, b).Event)
	})

	t.Run("publish without subscribers is not an error", func(t *testing.T) {
		bus := newBus(t)
		assert.NoError(t, bus.Publish(context.Background(), Message{DemoID: "nobody", Event: EventShowTrialCTA}))
	})

	t.Run("cancel closes the subscription", func(t *testing.T) {
		bus := newBus(t)
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := bus.Subscribe(ctx, "demo1")
		require.NoError(t, err)
		cancel()
		assertClosed(t, ch)
	})

	t.Run("rejects invalid demo id", func(t *testing.T) {
		bus := newBus(t)
		_, err := bus.Subscribe(context.Background(), "demo.>")
		assert.ErrorIs(t, err, ErrInvalidDemoID)
	})
}

func TestLocalBus(t *testing.T) {
	busTests(t, func(t *testing.T) Bus {
		bus := NewLocalBus(zap.NewNop())
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	})
}

func TestNATSBus(t *testing.T) {
	server := startTestNATSServer(t)

	busTests(t, func(t *testing.T) Bus {
		nc, err := nats.Connect(server.ClientURL())
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		return NewNATSBus(nc, zap.NewNop())
	})

	t.Run("dial owns the connection", func(t *testing.T) {
		bus, err := DialNATS(server.ClientURL(), zap.NewNop())
		require.NoError(t, err)
		assert.NoError(t, bus.Close())
	})
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "demo-abc", Topic("abc"))
}

func TestValidateDemoID(t *testing.T) {
	for _, ok := range []string{"abc", "A-1_b", "0b3f1c9e-6a1d-4a55-9f7e-1b2c3d4e5f60"} {
		assert.NoError(t, ValidateDemoID(ok), ok)
	}
	for _, bad := range []string{"", "a.b", "a*", "a>", "has space"} {
		assert.ErrorIs(t, ValidateDemoID(bad), ErrInvalidDemoID, bad)
	}
}

type failingBus struct{ Bus }

func (failingBus) Publish(context.Context, Message) error { return errors.New("bus down") }

func TestBroadcaster_Publish(t *testing.T) {
	t.Run("delivers through the bus", func(t *testing.T) {
		bus := NewLocalBus(zap.NewNop())
		defer bus.Close()
		m := metrics.New()
		b := NewBroadcaster(bus, zap.NewNop(), m)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch, err := b.Subscribe(ctx, "demo1")
		require.NoError(t, err)

		b.Publish(ctx, "demo1", EventShowTrialCTA, nil)

		assert.Equal(t, Message{DemoID: "demo1", Event: EventShowTrialCTA}, receive(t, ch))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("show_trial_cta", "ok")))
	})

	t.Run("transport errors are logged not returned", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		m := metrics.New()
		b := NewBroadcaster(failingBus{}, zap.New(core), m)

		b.Publish(context.Background(), "demo1", EventAnalyticsUpdated, nil)

		assert.Equal(t, 1, logs.FilterField(zap.String("category", "broadcast_failure")).Len())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("analytics_updated", "error")))
	})

	t.Run("invalid input never reaches the bus", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		b := NewBroadcaster(failingBus{}, zap.New(core), nil)

		b.Publish(context.Background(), "bad.id", EventAnalyticsUpdated, nil)
		b.Publish(context.Background(), "demo1", EventName("confetti"), nil)

		assert.Equal(t, 2, logs.FilterMessageSnippet("refusing").Len())
	})
}
