package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/valbows/domo-webhooks/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// SQLiteStore backs single-node deployments and tests. It keeps the same
// uniqueness constraints as the Postgres schema, so ledger claims stay atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		// WAL + busy timeout to avoid "database is locked"
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer connection serializes statements inside the process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("sqlite: create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error) {
	if eventID == "" {
		return false, errors.New("sqlite: event id required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_webhook_events(event_id, received_at) VALUES (?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		eventID, at.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) LookupDemoID(ctx context.Context, conversationID string) (string, error) {
	var demoID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT demo_id FROM conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&demoID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && demoID.String == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return demoID.String, nil
}

func (s *SQLiteStore) VideoURL(ctx context.Context, demoID, title string) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx,
		`SELECT url FROM demo_videos WHERE demo_id = ? AND lower(title) = lower(?)`, demoID, title,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return url, err
}

// AddDemoVideo registers a video for a demo. Demo CRUD lives outside this
// service; this exists for seeding single-node deployments and tests.
func (s *SQLiteStore) AddDemoVideo(ctx context.Context, demoID, title, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO demo_videos(demo_id, title, url) VALUES (?, ?, ?)
		 ON CONFLICT(demo_id, title) DO UPDATE SET url = excluded.url`,
		demoID, title, url,
	)
	return err
}

func (s *SQLiteStore) UpsertConversation(ctx context.Context, c models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations(conversation_id, demo_id, status, transcript, recording_url,
			shutdown_reason, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(conversation_id) DO UPDATE SET
			demo_id         = COALESCE(excluded.demo_id, conversations.demo_id),
			status          = CASE WHEN conversations.status = 'ended' THEN conversations.status ELSE excluded.status END,
			transcript      = COALESCE(excluded.transcript, conversations.transcript),
			recording_url   = COALESCE(excluded.recording_url, conversations.recording_url),
			shutdown_reason = COALESCE(excluded.shutdown_reason, conversations.shutdown_reason),
			started_at      = COALESCE(conversations.started_at, excluded.started_at),
			ended_at        = COALESCE(conversations.ended_at, excluded.ended_at),
			updated_at      = CURRENT_TIMESTAMP
	`, c.ConversationID, nullIfEmpty(c.DemoID), c.Status, jsonText(c.Transcript),
		nullIfEmpty(c.RecordingURL), nullIfEmpty(c.ShutdownReason), timeOrNil(c.StartedAt), timeOrNil(c.EndedAt))
	return err
}

func (s *SQLiteStore) InsertConversationEvent(ctx context.Context, e models.ConversationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_events(event_id, conversation_id, demo_id, kind, role, content,
			tool_name, arguments, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, e.EventID, e.ConversationID, nullIfEmpty(e.DemoID), e.Kind, nullIfEmpty(e.Role),
		nullIfEmpty(e.Content), nullIfEmpty(e.ToolName), jsonText(e.Arguments), e.OccurredAt.UTC())
	return err
}

func (s *SQLiteStore) UpsertQualification(ctx context.Context, q models.Qualification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qualification_data(conversation_id, demo_id, first_name, last_name, email,
			position, raw, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			demo_id     = COALESCE(excluded.demo_id, qualification_data.demo_id),
			first_name  = excluded.first_name,
			last_name   = excluded.last_name,
			email       = excluded.email,
			position    = excluded.position,
			raw         = excluded.raw,
			received_at = excluded.received_at
	`, q.ConversationID, nullIfEmpty(q.DemoID), nullIfEmpty(q.FirstName), nullIfEmpty(q.LastName),
		nullIfEmpty(q.Email), nullIfEmpty(q.Position), jsonText(q.Raw), q.ReceivedAt.UTC())
	return err
}

func (s *SQLiteStore) UpsertCTAClick(ctx context.Context, c models.CTAClick) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cta_clicks(conversation_id, demo_id, cta_url, user_agent, ip_address, clicked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, cta_url) DO UPDATE SET
			demo_id    = CASE WHEN cta_clicks.demo_id = '' THEN excluded.demo_id ELSE cta_clicks.demo_id END,
			user_agent = COALESCE(excluded.user_agent, cta_clicks.user_agent),
			ip_address = COALESCE(excluded.ip_address, cta_clicks.ip_address),
			clicked_at = excluded.clicked_at
	`, c.ConversationID, c.DemoID, c.CTAURL, nullIfEmpty(c.UserAgent), nullIfEmpty(c.IPAddress),
		c.ClickedAt.UTC())
	return err
}

func (s *SQLiteStore) UpsertVideoShowcase(ctx context.Context, v models.VideoShowcase) error {
	requested, err := json.Marshal(nonNil(v.RequestedVideos))
	if err != nil {
		return err
	}
	shown, err := json.Marshal(nonNil(v.VideosShown))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO video_showcase_data(conversation_id, demo_id, objective_name, requested_videos,
			videos_shown, raw, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			demo_id          = COALESCE(excluded.demo_id, video_showcase_data.demo_id),
			objective_name   = excluded.objective_name,
			requested_videos = excluded.requested_videos,
			videos_shown     = excluded.videos_shown,
			raw              = excluded.raw,
			received_at      = excluded.received_at
	`, v.ConversationID, nullIfEmpty(v.DemoID), nullIfEmpty(v.ObjectiveName), string(requested),
		string(shown), jsonText(v.Raw), v.ReceivedAt.UTC())
	return err
}

func (s *SQLiteStore) UpsertPerception(ctx context.Context, p models.Perception) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perception_analysis(conversation_id, demo_id, analysis, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			demo_id     = COALESCE(excluded.demo_id, perception_analysis.demo_id),
			analysis    = excluded.analysis,
			received_at = excluded.received_at
	`, p.ConversationID, nullIfEmpty(p.DemoID), jsonText(p.Analysis), p.ReceivedAt.UTC())
	return err
}

func (s *SQLiteStore) DemoAnalytics(ctx context.Context, demoID string) (models.DemoAnalytics, error) {
	a := models.DemoAnalytics{DemoID: demoID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE demo_id = ?),
			(SELECT COUNT(*) FROM conversations WHERE demo_id = ? AND status = 'ended'),
			(SELECT COUNT(*) FROM qualification_data WHERE demo_id = ?),
			(SELECT COUNT(*) FROM cta_clicks WHERE demo_id = ?),
			(SELECT COUNT(*) FROM video_showcase_data WHERE demo_id = ?),
			(SELECT COUNT(*) FROM perception_analysis WHERE demo_id = ?)
	`, demoID, demoID, demoID, demoID, demoID, demoID).Scan(
		&a.Conversations,
		&a.CompletedConversations,
		&a.QualifiedLeads,
		&a.CTAClicks,
		&a.VideoShowcases,
		&a.PerceptionAnalyses,
	)
	return a, err
}

func jsonText(raw []byte) any {
	if b := jsonOrNil(raw); b != nil {
		return string(b)
	}
	return nil
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
