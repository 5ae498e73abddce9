package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valbows/domo-webhooks/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence surface used by the service. Consumers depend
// on the narrower interfaces they declare themselves.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// ClaimEvent inserts the event identity into the ledger and reports whether
	// this call inserted it. Uniqueness is enforced by the table's primary key.
	ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error)

	LookupDemoID(ctx context.Context, conversationID string) (string, error)
	VideoURL(ctx context.Context, demoID, title string) (string, error)

	UpsertConversation(ctx context.Context, c models.Conversation) error
	InsertConversationEvent(ctx context.Context, e models.ConversationEvent) error
	UpsertQualification(ctx context.Context, q models.Qualification) error
	UpsertCTAClick(ctx context.Context, c models.CTAClick) error
	UpsertVideoShowcase(ctx context.Context, v models.VideoShowcase) error
	UpsertPerception(ctx context.Context, p models.Perception) error

	DemoAnalytics(ctx context.Context, demoID string) (models.DemoAnalytics, error)
}

// Open connects to the store selected by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "sqlite":
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// jsonOrNil keeps absent JSON columns NULL instead of storing the literal "null".
func jsonOrNil(raw []byte) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
