// Package ledger records which webhook deliveries have already been claimed.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/metrics"
)

// ClaimStore inserts an identity if absent and reports whether it did.
type ClaimStore interface {
	ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error)
}

// Claim is the outcome of claiming an event identity.
type Claim struct {
	IsDuplicate bool
	// Degraded is set when the store failed and the claim was granted anyway.
	Degraded bool
}

// Ledger suppresses duplicate processing of redelivered webhooks.
type Ledger struct {
	store   ClaimStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store ClaimStore, logger *zap.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Claim atomically records identity. The first claim wins; every later claim of
// the same identity is a duplicate.
//
// The ledger fails open: when the store is unreachable or the table is missing
// the event is treated as new. The provider does not reliably retry, so losing
// a callback costs more than occasionally processing one twice.
func (l *Ledger) Claim(ctx context.Context, identity string) Claim {
	inserted, err := l.store.ClaimEvent(ctx, identity, l.now())
	if err != nil && ctx.Err() != nil {
		// The caller went away; the store is not at fault.
		l.logger.Info("ledger claim abandoned, request canceled",
			logging.Category(logging.CategoryRequestCanceled),
			zap.String("event_id", identity),
			zap.Error(ctx.Err()),
		)
		return Claim{IsDuplicate: false, Degraded: true}
	}
	if err != nil {
		l.metrics.ObserveLedgerUnavailable()
		l.logger.Warn("idempotency ledger unavailable, processing without dedup",
			logging.Category(logging.CategoryLedgerUnavailable),
			zap.String("event_id", identity),
			zap.Error(err),
		)
		return Claim{IsDuplicate: false, Degraded: true}
	}
	return Claim{IsDuplicate: !inserted}
}

// Identity derives the event identity: an explicit event_id (top level, then
// properties) or else a SHA-256 of the exact raw body.
func Identity(parsed map[string]any, raw []byte) string {
	if id := explicitID(parsed); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func explicitID(parsed map[string]any) string {
	if s, ok := parsed["event_id"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if props, ok := parsed["properties"].(map[string]any); ok {
		if s, ok := props["event_id"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
