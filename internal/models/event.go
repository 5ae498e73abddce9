package models

// WebhookAck is returned by the webhook endpoint for every authenticated,
// well-formed delivery. Duplicate indicates the event was already claimed and
// nothing was processed; Error carries a handler failure that was acknowledged
// anyway.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error,omitempty"`
}

// CTAClickRequest is the POST /api/track-cta-click payload.
// conversation_id and demo_id are required; the rest is best effort.
type CTAClickRequest struct {
	ConversationID string `json:"conversation_id"`
	DemoID         string `json:"demo_id"`
	CTAURL         string `json:"cta_url,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// DemoAnalytics is the pull-based snapshot clients re-read after an
// analytics_updated broadcast.
type DemoAnalytics struct {
	DemoID                 string `json:"demo_id"`
	Conversations          int64  `json:"conversations"`
	CompletedConversations int64  `json:"completed_conversations"`
	QualifiedLeads         int64  `json:"qualified_leads"`
	CTAClicks              int64  `json:"cta_clicks"`
	VideoShowcases         int64  `json:"video_showcases"`
	PerceptionAnalyses     int64  `json:"perception_analyses"`
}
