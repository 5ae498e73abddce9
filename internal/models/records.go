package models

import (
	"encoding/json"
	"time"
)

// Conversation statuses. An ended conversation never goes back to active, so a
// late replica_joined delivered after shutdown cannot resurrect it.
const (
	ConversationActive = "active"
	ConversationEnded  = "ended"
)

// Conversation is the lifecycle row keyed by conversation ID.
type Conversation struct {
	ConversationID string
	DemoID         string
	Status         string
	Transcript     json.RawMessage
	RecordingURL   string
	ShutdownReason string
	StartedAt      *time.Time
	EndedAt        *time.Time
}

// ConversationEvent is an utterance or tool call, keyed by the webhook's event
// identity so a redelivered event cannot append twice.
type ConversationEvent struct {
	EventID        string
	ConversationID string
	DemoID         string
	Kind           string
	Role           string
	Content        string
	ToolName       string
	Arguments      json.RawMessage
	OccurredAt     time.Time
}

// Qualification is the lead captured during a conversation; one per conversation.
type Qualification struct {
	ConversationID string
	DemoID         string
	FirstName      string
	LastName       string
	Email          string
	Position       string
	Raw            json.RawMessage
	ReceivedAt     time.Time
}

// CTAClick is keyed by (conversation, demo, destination); repeated clicks on the
// same destination refresh the timestamp instead of adding rows.
type CTAClick struct {
	ConversationID string
	DemoID         string
	CTAURL         string
	UserAgent      string
	IPAddress      string
	ClickedAt      time.Time
}

// VideoShowcase records which demo videos were requested and shown.
type VideoShowcase struct {
	ConversationID  string
	DemoID          string
	ObjectiveName   string
	RequestedVideos []string
	VideosShown     []string
	Raw             json.RawMessage
	ReceivedAt      time.Time
}

// Perception holds the provider's perception analysis for a conversation.
type Perception struct {
	ConversationID string
	DemoID         string
	Analysis       json.RawMessage
	ReceivedAt     time.Time
}
