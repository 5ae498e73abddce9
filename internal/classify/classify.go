package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed marks a payload that is structurally unusable, as opposed to
// merely unrecognized.
var ErrMalformed = errors.New("malformed payload")

// Classify inspects event_type and properties and returns the matching variant.
// Unrecognized event types yield *Unknown, never an error. Missing optional
// fields leave zero values behind; only variants that cannot be recorded
// without a conversation ID reject a payload that lacks one.
func Classify(parsed map[string]any) (Event, error) {
	p := payload{root: parsed, props: object(parsed["properties"])}
	env := Envelope{
		EventType:      strings.TrimSpace(str(parsed["event_type"])),
		ConversationID: p.top("conversation_id"),
		DemoID:         p.top("demo_id"),
		Timestamp:      parseTime(parsed["timestamp"]),
	}

	switch env.EventType {
	case "system.replica_joined":
		return &Lifecycle{Envelope: env, Stage: StageReplicaJoined}, nil

	case "system.shutdown":
		return &Lifecycle{
			Envelope:       env,
			Stage:          StageShutdown,
			ShutdownReason: p.field("shutdown_reason"),
		}, nil

	case "application.conversation_ended":
		return &Lifecycle{Envelope: env, Stage: StageConversationEnded}, nil

	case "application.transcription_ready":
		return &Lifecycle{
			Envelope:   env,
			Stage:      StageTranscriptionReady,
			Transcript: p.raw("transcript"),
		}, nil

	case "application.recording_ready":
		return &Lifecycle{
			Envelope:     env,
			Stage:        StageRecordingReady,
			RecordingURL: p.field("recording_url", "s3_key"),
		}, nil

	case "conversation.utterance":
		return &Utterance{
			Envelope: env,
			Role:     p.field("role"),
			Speech:   p.field("speech", "content"),
		}, nil

	case "conversation.tool_call":
		return &ToolCall{
			Envelope:  env,
			Name:      p.field("name", "tool_name"),
			Arguments: arguments(p.lookup("arguments")),
		}, nil

	case "application.qualification_data":
		if env.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s without conversation_id", ErrMalformed, env.EventType)
		}
		return &Qualification{
			Envelope:  env,
			FirstName: p.field("first_name"),
			LastName:  p.field("last_name"),
			Email:     p.field("email"),
			Position:  p.field("position"),
			Raw:       p.rawProps(),
		}, nil

	case "application.cta_click":
		if env.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s without conversation_id", ErrMalformed, env.EventType)
		}
		return &CTAClick{
			Envelope:  env,
			CTAURL:    p.field("cta_url", "url"),
			UserAgent: p.field("user_agent"),
		}, nil

	case "application.video_showcase":
		if env.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s without conversation_id", ErrMalformed, env.EventType)
		}
		return &VideoShowcase{
			Envelope:        env,
			ObjectiveName:   p.field("objective_name"),
			RequestedVideos: stringList(p.lookup("requested_videos")),
			VideosShown:     stringList(p.lookup("videos_shown")),
			Raw:             p.rawProps(),
		}, nil

	case "application.perception_analysis":
		analysis := p.raw("analysis", "perception_analysis")
		if analysis == nil {
			analysis = p.rawProps()
		}
		return &Perception{Envelope: env, Analysis: analysis}, nil

	default:
		return &Unknown{Envelope: env}, nil
	}
}

// payload looks fields up in properties, then in the nested objects providers
// use for custom objective output, then at the top level.
type payload struct {
	root  map[string]any
	props map[string]any
}

func (p payload) scopes() []map[string]any {
	return []map[string]any{
		p.props,
		object(p.props["output_variables"]),
		object(p.props["data"]),
		p.root,
	}
}

func (p payload) lookup(key string) any {
	for _, scope := range p.scopes() {
		if v, ok := scope[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// top prefers the top-level field for identifiers.
func (p payload) top(key string) string {
	if s := strings.TrimSpace(str(p.root[key])); s != "" {
		return s
	}
	return strings.TrimSpace(str(p.props[key]))
}

func (p payload) field(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(str(p.lookup(k))); s != "" {
			return s
		}
	}
	return ""
}

func (p payload) raw(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v := p.lookup(k); v != nil {
			if b, err := json.Marshal(v); err == nil {
				return b
			}
		}
	}
	return nil
}

func (p payload) rawProps() json.RawMessage {
	if len(p.props) == 0 {
		return nil
	}
	b, err := json.Marshal(p.props)
	if err != nil {
		return nil
	}
	return b
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// stringList accepts a JSON array of strings or a comma separated string.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(str(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// arguments accepts an object or a JSON-encoded object string, which is how
// tool-call arguments usually arrive.
func arguments(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil && m != nil {
			return m
		}
		if strings.TrimSpace(t) != "" {
			return map[string]any{"raw": t}
		}
	}
	return map[string]any{}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
