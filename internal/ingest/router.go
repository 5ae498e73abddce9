// Package ingest turns authenticated webhook deliveries into persisted records
// and realtime broadcasts.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/broadcast"
	"github.com/valbows/domo-webhooks/internal/classify"
	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/metrics"
	"github.com/valbows/domo-webhooks/internal/models"
	"github.com/valbows/domo-webhooks/internal/store"
)

// Persistence is the slice of the store the router writes through.
type Persistence interface {
	LookupDemoID(ctx context.Context, conversationID string) (string, error)
	VideoURL(ctx context.Context, demoID, title string) (string, error)
	UpsertConversation(ctx context.Context, c models.Conversation) error
	InsertConversationEvent(ctx context.Context, e models.ConversationEvent) error
	UpsertQualification(ctx context.Context, q models.Qualification) error
	UpsertCTAClick(ctx context.Context, c models.CTAClick) error
	UpsertVideoShowcase(ctx context.Context, v models.VideoShowcase) error
	UpsertPerception(ctx context.Context, p models.Perception) error
}

// Publisher is the publish-only side of the broadcaster.
type Publisher interface {
	Publish(ctx context.Context, demoID string, event broadcast.EventName, payload map[string]any)
}

// ConversationEnder asks the provider to terminate a live conversation.
type ConversationEnder interface {
	EndConversation(ctx context.Context, conversationID string) error
}

// Route statuses.
const (
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
)

// Result is what routing one event produced. Error is set when a handler
// failed; the delivery is still acknowledged.
type Result struct {
	Status string
	Error  string
}

// Router dispatches each classified event to exactly one persistence handler
// and, once that succeeds, to at most one broadcast.
type Router struct {
	store   Persistence
	pub     Publisher
	ender   ConversationEnder
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRouter(st Persistence, pub Publisher, ender ConversationEnder, logger *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		store:   st,
		pub:     pub,
		ender:   ender,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// outbound is a broadcast to send after persistence succeeds.
type outbound struct {
	event   broadcast.EventName
	payload map[string]any
}

var analyticsUpdated = &outbound{event: broadcast.EventAnalyticsUpdated}

func (r *Router) Route(ctx context.Context, eventID string, ev classify.Event) Result {
	meta := ev.Meta()
	kind := string(ev.Kind())
	log := r.logger.With(
		zap.String("event_id", eventID),
		zap.String("event_type", meta.EventType),
		zap.String("kind", kind),
		zap.String("conversation_id", meta.ConversationID),
	)

	if _, ok := ev.(*classify.Unknown); ok {
		r.metrics.ObserveEvent(kind, StatusIgnored)
		log.Info("ignoring unrecognized webhook event", logging.Category(logging.CategoryUnknownEvent))
		return Result{Status: StatusIgnored}
	}
	if meta.ConversationID == "" {
		r.metrics.ObserveEvent(kind, StatusIgnored)
		log.Warn("ignoring webhook event without conversation id", logging.Category(logging.CategoryMalformedPayload))
		return Result{Status: StatusIgnored}
	}

	demoID := r.resolveDemoID(ctx, log, meta)
	at := meta.Timestamp
	if at.IsZero() {
		at = r.now().UTC()
	}

	var (
		out *outbound
		err error
	)
	switch e := ev.(type) {
	case *classify.Lifecycle:
		out, err = r.handleLifecycle(ctx, e, demoID, at)
	case *classify.Utterance:
		err = r.store.InsertConversationEvent(ctx, models.ConversationEvent{
			EventID:        eventID,
			ConversationID: e.ConversationID,
			DemoID:         demoID,
			Kind:           string(classify.KindUtterance),
			Role:           e.Role,
			Content:        e.Speech,
			OccurredAt:     at,
		})
	case *classify.ToolCall:
		out, err = r.handleToolCall(ctx, log, eventID, e, demoID, at)
	case *classify.Qualification:
		err = r.store.UpsertQualification(ctx, models.Qualification{
			ConversationID: e.ConversationID,
			DemoID:         demoID,
			FirstName:      e.FirstName,
			LastName:       e.LastName,
			Email:          e.Email,
			Position:       e.Position,
			Raw:            e.Raw,
			ReceivedAt:     at,
		})
	case *classify.CTAClick:
		err = r.store.UpsertCTAClick(ctx, models.CTAClick{
			ConversationID: e.ConversationID,
			DemoID:         demoID,
			CTAURL:         e.CTAURL,
			UserAgent:      e.UserAgent,
			ClickedAt:      at,
		})
	case *classify.VideoShowcase:
		err = r.store.UpsertVideoShowcase(ctx, models.VideoShowcase{
			ConversationID:  e.ConversationID,
			DemoID:          demoID,
			ObjectiveName:   e.ObjectiveName,
			RequestedVideos: e.RequestedVideos,
			VideosShown:     e.VideosShown,
			Raw:             e.Raw,
			ReceivedAt:      at,
		})
		out = analyticsUpdated
	case *classify.Perception:
		err = r.store.UpsertPerception(ctx, models.Perception{
			ConversationID: e.ConversationID,
			DemoID:         demoID,
			Analysis:       e.Analysis,
			ReceivedAt:     at,
		})
		out = analyticsUpdated
	default:
		err = fmt.Errorf("no handler for %T", ev)
	}

	if err != nil {
		var perr *providerError
		if errors.As(err, &perr) {
			// The tool call itself was recorded; only the provider callback failed.
			log.Warn("provider call failed", logging.Category(logging.CategoryProviderFailure), zap.Error(perr.err))
		} else {
			r.metrics.ObservePersistenceFailure(kind)
			r.metrics.ObserveEvent(kind, StatusProcessed)
			log.Error("persisting webhook event failed", logging.Category(logging.CategoryPersistenceFailure), zap.Error(err))
			return Result{Status: StatusProcessed, Error: err.Error()}
		}
	}

	if out != nil {
		r.publish(ctx, log, demoID, out)
	}
	r.metrics.ObserveEvent(kind, StatusProcessed)

	res := Result{Status: StatusProcessed}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (r *Router) handleLifecycle(ctx context.Context, e *classify.Lifecycle, demoID string, at time.Time) (*outbound, error) {
	conv := models.Conversation{
		ConversationID: e.ConversationID,
		DemoID:         demoID,
		Status:         e.Status(),
		Transcript:     e.Transcript,
		RecordingURL:   e.RecordingURL,
		ShutdownReason: e.ShutdownReason,
	}
	if e.Stage == classify.StageReplicaJoined {
		conv.StartedAt = &at
	} else {
		conv.EndedAt = &at
	}
	if err := r.store.UpsertConversation(ctx, conv); err != nil {
		return nil, err
	}

	switch e.Stage {
	case classify.StageShutdown, classify.StageConversationEnded, classify.StageTranscriptionReady:
		return analyticsUpdated, nil
	}
	return nil, nil
}

func (r *Router) handleToolCall(ctx context.Context, log *zap.Logger, eventID string, e *classify.ToolCall, demoID string, at time.Time) (*outbound, error) {
	args, err := json.Marshal(e.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encode tool arguments: %w", err)
	}
	if err := r.store.InsertConversationEvent(ctx, models.ConversationEvent{
		EventID:        eventID,
		ConversationID: e.ConversationID,
		DemoID:         demoID,
		Kind:           string(classify.KindToolCall),
		ToolName:       e.Name,
		Arguments:      args,
		OccurredAt:     at,
	}); err != nil {
		return nil, err
	}

	switch e.Name {
	case classify.ToolFetchVideo:
		title := e.Argument("video_title", "title", "video_name")
		if title == "" || demoID == "" {
			log.Warn("fetch_video without title or demo", zap.String("title", title))
			return nil, nil
		}
		url, err := r.store.VideoURL(ctx, demoID, title)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("fetch_video for unknown video", zap.String("title", title))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup video %q: %w", title, err)
		}
		return &outbound{event: broadcast.EventPlayVideo, payload: map[string]any{"url": url}}, nil

	case classify.ToolShowTrialCTA:
		return &outbound{event: broadcast.EventShowTrialCTA}, nil

	case classify.ToolEndConversation:
		if r.ender == nil {
			return analyticsUpdated, nil
		}
		if err := r.ender.EndConversation(ctx, e.ConversationID); err != nil {
			return analyticsUpdated, &providerError{err: err}
		}
		return analyticsUpdated, nil
	}
	return nil, nil
}

func (r *Router) resolveDemoID(ctx context.Context, log *zap.Logger, meta *classify.Envelope) string {
	if meta.DemoID != "" {
		return meta.DemoID
	}
	demoID, err := r.store.LookupDemoID(ctx, meta.ConversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("resolving demo id failed", zap.Error(err))
	}
	return demoID
}

func (r *Router) publish(ctx context.Context, log *zap.Logger, demoID string, out *outbound) {
	if demoID == "" {
		log.Warn("skipping broadcast, demo unknown", zap.String("broadcast", string(out.event)))
		return
	}
	r.pub.Publish(ctx, demoID, out.event, out.payload)
}

type providerError struct{ err error }

func (e *providerError) Error() string { return "end conversation: " + e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }
