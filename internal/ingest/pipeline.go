package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/classify"
	"github.com/valbows/domo-webhooks/internal/ledger"
	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/metrics"
)

// ErrMalformed is returned for bodies that are not a JSON object or that a
// classifier rejects structurally. Callers answer 400.
var ErrMalformed = errors.New("malformed webhook payload")

// StatusDuplicate marks a redelivery that was acknowledged without processing.
const StatusDuplicate = "duplicate"

// Claimer is the idempotency ledger.
type Claimer interface {
	Claim(ctx context.Context, identity string) ledger.Claim
}

// Outcome summarizes one delivery for the acknowledgement.
type Outcome struct {
	EventID   string
	EventType string
	Status    string
	Duplicate bool
	Error     string
}

// Pipeline runs an authenticated body through claim, classification and
// routing, in that order.
type Pipeline struct {
	ledger  Claimer
	router  *Router
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPipeline(l Claimer, r *Router, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{ledger: l, router: r, logger: logger, metrics: m}
}

// Ingest processes one raw body. The only error it returns wraps ErrMalformed;
// handler and ledger failures are reported through the Outcome and logs.
//
// A payload that fails classification after its identity was claimed stays
// claimed, so a redelivery of the same broken body is answered as a duplicate.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) (Outcome, error) {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		p.rejectMalformed(err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if parsed == nil {
		p.rejectMalformed(errors.New("body is null"))
		return Outcome{}, fmt.Errorf("%w: body is null", ErrMalformed)
	}

	eventID := ledger.Identity(parsed, raw)
	eventType, _ := parsed["event_type"].(string)
	out := Outcome{EventID: eventID, EventType: eventType}

	if claim := p.ledger.Claim(ctx, eventID); claim.IsDuplicate {
		p.metrics.ObserveEvent("unclassified", StatusDuplicate)
		p.logger.Info("skipping duplicate webhook",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
		)
		out.Status = StatusDuplicate
		out.Duplicate = true
		return out, nil
	}

	ev, err := classify.Classify(parsed)
	if err != nil {
		p.rejectMalformed(err, zap.String("event_id", eventID))
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	res := p.router.Route(ctx, eventID, ev)
	out.Status = res.Status
	out.Error = res.Error
	return out, nil
}

func (p *Pipeline) rejectMalformed(err error, fields ...zap.Field) {
	p.metrics.ObserveEvent("unclassified", "malformed")
	p.logger.Warn("rejecting malformed webhook",
		append(fields, logging.Category(logging.CategoryMalformedPayload), zap.Error(err))...)
}
