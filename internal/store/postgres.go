package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valbows/domo-webhooks/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// ClaimEvent returns inserted=false when the identity was already claimed.
//
// Duplicate detection is enforced by the primary key on event_id, so racing
// claims resolve to exactly one insert regardless of how many replicas run.
func (p *PostgresStore) ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error) {
	if eventID == "" {
		return false, errors.New("postgres: event id required")
	}

	// RETURNING 1 only when inserted; duplicates return no rows.
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO processed_webhook_events(event_id, received_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING 1
	`, eventID, at.UTC()).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func (p *PostgresStore) LookupDemoID(ctx context.Context, conversationID string) (string, error) {
	var demoID *string
	err := p.pool.QueryRow(ctx,
		`SELECT demo_id FROM conversations WHERE conversation_id = $1`,
		conversationID,
	).Scan(&demoID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && (demoID == nil || *demoID == "")) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return *demoID, nil
}

func (p *PostgresStore) VideoURL(ctx context.Context, demoID, title string) (string, error) {
	var url string
	err := p.pool.QueryRow(ctx,
		`SELECT url FROM demo_videos WHERE demo_id = $1 AND lower(title) = lower($2)`,
		demoID, title,
	).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return url, err
}

// UpsertConversation merges a lifecycle update. Out-of-order deliveries are
// tolerated: ended is terminal and non-empty columns are never cleared.
func (p *PostgresStore) UpsertConversation(ctx context.Context, c models.Conversation) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversations(conversation_id, demo_id, status, transcript, recording_url,
			shutdown_reason, started_at, ended_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			demo_id         = COALESCE(EXCLUDED.demo_id, conversations.demo_id),
			status          = CASE WHEN conversations.status = 'ended' THEN conversations.status ELSE EXCLUDED.status END,
			transcript      = COALESCE(EXCLUDED.transcript, conversations.transcript),
			recording_url   = COALESCE(EXCLUDED.recording_url, conversations.recording_url),
			shutdown_reason = COALESCE(EXCLUDED.shutdown_reason, conversations.shutdown_reason),
			started_at      = COALESCE(conversations.started_at, EXCLUDED.started_at),
			ended_at        = COALESCE(conversations.ended_at, EXCLUDED.ended_at),
			updated_at      = now()
	`, c.ConversationID, nullIfEmpty(c.DemoID), c.Status, jsonOrNil(c.Transcript),
		nullIfEmpty(c.RecordingURL), nullIfEmpty(c.ShutdownReason), c.StartedAt, c.EndedAt)
	return err
}

func (p *PostgresStore) InsertConversationEvent(ctx context.Context, e models.ConversationEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_events(event_id, conversation_id, demo_id, kind, role, content,
			tool_name, arguments, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.ConversationID, nullIfEmpty(e.DemoID), e.Kind, nullIfEmpty(e.Role),
		nullIfEmpty(e.Content), nullIfEmpty(e.ToolName), jsonOrNil(e.Arguments), e.OccurredAt.UTC())
	return err
}

func (p *PostgresStore) UpsertQualification(ctx context.Context, q models.Qualification) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO qualification_data(conversation_id, demo_id, first_name, last_name, email,
			position, raw, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			demo_id     = COALESCE(EXCLUDED.demo_id, qualification_data.demo_id),
			first_name  = EXCLUDED.first_name,
			last_name   = EXCLUDED.last_name,
			email       = EXCLUDED.email,
			position    = EXCLUDED.position,
			raw         = EXCLUDED.raw,
			received_at = EXCLUDED.received_at
	`, q.ConversationID, nullIfEmpty(q.DemoID), nullIfEmpty(q.FirstName), nullIfEmpty(q.LastName),
		nullIfEmpty(q.Email), nullIfEmpty(q.Position), jsonOrNil(q.Raw), q.ReceivedAt.UTC())
	return err
}

func (p *PostgresStore) UpsertCTAClick(ctx context.Context, c models.CTAClick) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cta_clicks(conversation_id, demo_id, cta_url, user_agent, ip_address, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id, cta_url) DO UPDATE SET
			demo_id    = CASE WHEN cta_clicks.demo_id = '' THEN EXCLUDED.demo_id ELSE cta_clicks.demo_id END,
			user_agent = COALESCE(EXCLUDED.user_agent, cta_clicks.user_agent),
			ip_address = COALESCE(EXCLUDED.ip_address, cta_clicks.ip_address),
			clicked_at = EXCLUDED.clicked_at
	`, c.ConversationID, c.DemoID, c.CTAURL, nullIfEmpty(c.UserAgent), nullIfEmpty(c.IPAddress),
		c.ClickedAt.UTC())
	return err
}

func (p *PostgresStore) UpsertVideoShowcase(ctx context.Context, v models.VideoShowcase) error {
	requested, err := json.Marshal(nonNil(v.RequestedVideos))
	if err != nil {
		return err
	}
	shown, err := json.Marshal(nonNil(v.VideosShown))
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO video_showcase_data(conversation_id, demo_id, objective_name, requested_videos,
			videos_shown, raw, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id) DO UPDATE SET
			demo_id          = COALESCE(EXCLUDED.demo_id, video_showcase_data.demo_id),
			objective_name   = EXCLUDED.objective_name,
			requested_videos = EXCLUDED.requested_videos,
			videos_shown     = EXCLUDED.videos_shown,
			raw              = EXCLUDED.raw,
			received_at      = EXCLUDED.received_at
	`, v.ConversationID, nullIfEmpty(v.DemoID), nullIfEmpty(v.ObjectiveName), requested, shown,
		jsonOrNil(v.Raw), v.ReceivedAt.UTC())
	return err
}

func (p *PostgresStore) UpsertPerception(ctx context.Context, pa models.Perception) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO perception_analysis(conversation_id, demo_id, analysis, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			demo_id     = COALESCE(EXCLUDED.demo_id, perception_analysis.demo_id),
			analysis    = EXCLUDED.analysis,
			received_at = EXCLUDED.received_at
	`, pa.ConversationID, nullIfEmpty(pa.DemoID), jsonOrNil(pa.Analysis), pa.ReceivedAt.UTC())
	return err
}

// DemoAnalytics counts the rows each dashboard tile is built from.
func (p *PostgresStore) DemoAnalytics(ctx context.Context, demoID string) (models.DemoAnalytics, error) {
	a := models.DemoAnalytics{DemoID: demoID}
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE demo_id = $1),
			(SELECT COUNT(*) FROM conversations WHERE demo_id = $1 AND status = 'ended'),
			(SELECT COUNT(*) FROM qualification_data WHERE demo_id = $1),
			(SELECT COUNT(*) FROM cta_clicks WHERE demo_id = $1),
			(SELECT COUNT(*) FROM video_showcase_data WHERE demo_id = $1),
			(SELECT COUNT(*) FROM perception_analysis WHERE demo_id = $1)
	`, demoID).Scan(
		&a.Conversations,
		&a.CompletedConversations,
		&a.QualifiedLeads,
		&a.CTAClicks,
		&a.VideoShowcases,
		&a.PerceptionAnalyses,
	)
	return a, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
