// Package classify maps raw provider webhook payloads onto a closed set of
// event variants.
//
// Event is a sealed interface: only types in this package implement it, so a
// type switch over the variants below is exhaustive and Unknown is the single
// fallback for vocabulary the provider adds later.
package classify

import (
	"encoding/json"
	"time"

	"github.com/valbows/domo-webhooks/internal/models"
)

// Kind names an event variant. It is also the metrics label.
type Kind string

const (
	KindLifecycle     Kind = "conversation_lifecycle"
	KindUtterance     Kind = "utterance"
	KindToolCall      Kind = "tool_call"
	KindQualification Kind = "qualification_data"
	KindCTAClick      Kind = "cta_click"
	KindVideoShowcase Kind = "video_showcase"
	KindPerception    Kind = "perception_analysis"
	KindUnknown       Kind = "unknown"
)

// Event is one classified webhook.
type Event interface {
	Kind() Kind
	Meta() *Envelope
	sealed()
}

// Envelope carries the fields every variant has. DemoID may be empty when the
// payload omits it; the router resolves it from the conversation.
type Envelope struct {
	EventType      string
	ConversationID string
	DemoID         string
	Timestamp      time.Time
}

func (e *Envelope) Meta() *Envelope { return e }
func (*Envelope) sealed()           {}

// Lifecycle stages.
const (
	StageReplicaJoined      = "replica_joined"
	StageShutdown           = "shutdown"
	StageConversationEnded  = "conversation_ended"
	StageTranscriptionReady = "transcription_ready"
	StageRecordingReady     = "recording_ready"
)

type Lifecycle struct {
	Envelope
	Stage          string
	ShutdownReason string
	Transcript     json.RawMessage
	RecordingURL   string
}

type Utterance struct {
	Envelope
	Role   string
	Speech string
}

// Tool names the persona may invoke.
const (
	ToolFetchVideo      = "fetch_video"
	ToolShowTrialCTA    = "show_trial_cta"
	ToolEndConversation = "end_conversation"
)

type ToolCall struct {
	Envelope
	Name      string
	Arguments map[string]any
}

type Qualification struct {
	Envelope
	FirstName string
	LastName  string
	Email     string
	Position  string
	Raw       json.RawMessage
}

type CTAClick struct {
	Envelope
	CTAURL    string
	UserAgent string
}

type VideoShowcase struct {
	Envelope
	ObjectiveName   string
	RequestedVideos []string
	VideosShown     []string
	Raw             json.RawMessage
}

type Perception struct {
	Envelope
	Analysis json.RawMessage
}

type Unknown struct {
	Envelope
}

func (*Lifecycle) Kind() Kind     { return KindLifecycle }
func (*Utterance) Kind() Kind     { return KindUtterance }
func (*ToolCall) Kind() Kind      { return KindToolCall }
func (*Qualification) Kind() Kind { return KindQualification }
func (*CTAClick) Kind() Kind      { return KindCTAClick }
func (*VideoShowcase) Kind() Kind { return KindVideoShowcase }
func (*Perception) Kind() Kind    { return KindPerception }
func (*Unknown) Kind() Kind       { return KindUnknown }

// Status returns the conversation status a lifecycle stage implies.
func (l *Lifecycle) Status() string {
	if l.Stage == StageReplicaJoined {
		return models.ConversationActive
	}
	return models.ConversationEnded
}

// Argument returns the first non-empty string argument among keys.
func (t *ToolCall) Argument(keys ...string) string {
	for _, k := range keys {
		if s, ok := t.Arguments[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
