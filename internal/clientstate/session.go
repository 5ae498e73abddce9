package clientstate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/broadcast"
)

// Subscriber opens a broadcast stream for one demo. The returned channel is
// closed once ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, demoID string) (<-chan broadcast.Message, error)
}

// Session binds one viewer to a demo topic. At most one subscription is live
// per Session no matter how often it is mounted.
type Session struct {
	demoID string
	sub    Subscriber

	logger       *zap.Logger
	onRefresh    func(ctx context.Context)
	onTransition func(from, to State)

	// lifecycle serializes Mount and Unmount, including the wait for the
	// previous pump to exit.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Session)

// WithRefresh runs fn for every EffectRefreshAnalytics. It runs on the
// session's pump goroutine.
func WithRefresh(fn func(ctx context.Context)) Option {
	return func(s *Session) { s.onRefresh = fn }
}

// WithOnTransition is called after every state change.
func WithOnTransition(fn func(from, to State)) Option {
	return func(s *Session) { s.onTransition = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func NewSession(demoID string, sub Subscriber, opts ...Option) *Session {
	s := &Session{
		demoID: demoID,
		sub:    sub,
		logger: zap.NewNop(),
		state:  State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount subscribes to the demo topic. Mounting an already mounted session is a
// no-op. A Mount racing an Unmount waits until the previous pump has exited.
func (s *Session) Mount(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Mounted() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	ch, err := s.sub.Subscribe(ctx, s.demoID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", broadcast.Topic(s.demoID), err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	go s.pump(ctx, ch, done)
	return nil
}

// Unmount cancels the subscription and waits for the pump to exit, so a
// following Mount never overlaps with the previous subscription. It must not
// be called from a refresh or transition callback.
func (s *Session) Unmount() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
}

func (s *Session) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a to the current state and runs the resulting effect.
func (s *Session) Dispatch(ctx context.Context, a Action) State {
	s.mu.Lock()
	prev := s.state
	next, effect := Reduce(prev, a)
	s.state = next
	s.mu.Unlock()

	if next != prev && s.onTransition != nil {
		s.onTransition(prev, next)
	}
	if effect == EffectRefreshAnalytics && s.onRefresh != nil {
		s.onRefresh(ctx)
	}
	return next
}

func (s *Session) pump(ctx context.Context, ch <-chan broadcast.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				s.logger.Debug("broadcast stream closed", zap.String("demo_id", s.demoID))
				return
			}
			if ctx.Err() != nil {
				return
			}
			a, ok := ActionFromMessage(m)
			if !ok {
				s.logger.Debug("ignoring broadcast", zap.String("event", string(m.Event)))
				continue
			}
			s.Dispatch(ctx, a)
		}
	}
}
