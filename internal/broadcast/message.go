// Package broadcast fans derived demo events out to live client sessions over
// a per-demo topic.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// EventName is one of the events a client session understands.
type EventName string

const (
	EventPlayVideo        EventName = "play_video"
	EventShowTrialCTA     EventName = "show_trial_cta"
	EventAnalyticsUpdated EventName = "analytics_updated"
)

func (e EventName) Valid() bool {
	switch e {
	case EventPlayVideo, EventShowTrialCTA, EventAnalyticsUpdated:
		return true
	}
	return false
}

// Message is the wire form delivered to subscribers.
type Message struct {
	DemoID  string         `json:"demo_id"`
	Event   EventName      `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ErrInvalidDemoID is returned for demo IDs that cannot name a topic.
var ErrInvalidDemoID = errors.New("invalid demo id")

var demoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateDemoID rejects IDs that would escape the topic namespace, such as
// NATS wildcards or subject separators.
func ValidateDemoID(demoID string) error {
	if !demoIDPattern.MatchString(demoID) {
		return fmt.Errorf("%w: %q", ErrInvalidDemoID, demoID)
	}
	return nil
}

// Topic names the channel for a demo.
func Topic(demoID string) string {
	return "demo-" + demoID
}

// Bus is the transport underneath the broadcaster. Subscribe returns a channel
// that is closed once ctx is done or the bus shuts down.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, demoID string) (<-chan Message, error)
	Close() error
}

// subscriberBuffer bounds how far a slow subscriber may lag.
const subscriberBuffer = 64
