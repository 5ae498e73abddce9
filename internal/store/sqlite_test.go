package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valbows/domo-webhooks/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_EnsureSchemaIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteStore_ClaimEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inserted, err := s.ClaimEvent(ctx, "evt-1", time.Now())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.ClaimEvent(ctx, "evt-1", time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = s.ClaimEvent(ctx, "", time.Now())
	assert.Error(t, err)
}

func TestSQLiteStore_ConcurrentClaimsInsertOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const workers = 16
	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimEvent(ctx, "race", time.Now())
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
}

func TestSQLiteStore_ConversationLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertConversation(ctx, models.Conversation{
		ConversationID: "c1",
		DemoID:         "d1",
		Status:         models.ConversationActive,
		StartedAt:      &now,
	}))

	demoID, err := s.LookupDemoID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "d1", demoID)

	require.NoError(t, s.UpsertConversation(ctx, models.Conversation{
		ConversationID: "c1",
		Status:         models.ConversationEnded,
		ShutdownReason: "participant_left",
		EndedAt:        &now,
	}))

	// A late join must not reopen an ended conversation or drop its demo.
	require.NoError(t, s.UpsertConversation(ctx, models.Conversation{
		ConversationID: "c1",
		Status:         models.ConversationActive,
	}))

	var status, demo string
	require.NoError(t, s.db.QueryRow(
		`SELECT status, demo_id FROM conversations WHERE conversation_id = ?`, "c1",
	).Scan(&status, &demo))
	assert.Equal(t, models.ConversationEnded, status)
	assert.Equal(t, "d1", demo)

	_, err = s.LookupDemoID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ConversationEventsDedupeByEventID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := models.ConversationEvent{
		EventID:        "sha256:abc",
		ConversationID: "c1",
		Kind:           "utterance",
		Role:           "user",
		Content:        "hello",
		OccurredAt:     time.Now(),
	}
	require.NoError(t, s.InsertConversationEvent(ctx, ev))
	require.NoError(t, s.InsertConversationEvent(ctx, ev))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM conversation_events`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_UpsertsAreIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	q := models.Qualification{
		ConversationID: "c1",
		DemoID:         "d1",
		FirstName:      "Ada",
		Email:          "ada@example.com",
		Raw:            json.RawMessage(`{"first_name":"Ada"}`),
		ReceivedAt:     now,
	}
	click := models.CTAClick{ConversationID: "c1", DemoID: "d1", CTAURL: "https://example.com/trial", ClickedAt: now}
	show := models.VideoShowcase{ConversationID: "c1", DemoID: "d1", VideosShown: []string{"Intro"}, ReceivedAt: now}
	perc := models.Perception{ConversationID: "c1", DemoID: "d1", Analysis: json.RawMessage(`"engaged"`), ReceivedAt: now}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.UpsertConversation(ctx, models.Conversation{ConversationID: "c1", DemoID: "d1", Status: models.ConversationEnded}))
		require.NoError(t, s.UpsertQualification(ctx, q))
		require.NoError(t, s.UpsertCTAClick(ctx, click))
		require.NoError(t, s.UpsertVideoShowcase(ctx, show))
		require.NoError(t, s.UpsertPerception(ctx, perc))
	}

	a, err := s.DemoAnalytics(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DemoAnalytics{
		DemoID:                 "d1",
		Conversations:          1,
		CompletedConversations: 1,
		QualifiedLeads:         1,
		CTAClicks:              1,
		VideoShowcases:         1,
		PerceptionAnalyses:     1,
	}, a)

	// A different destination is a distinct click.
	click.CTAURL = "https://example.com/pricing"
	require.NoError(t, s.UpsertCTAClick(ctx, click))
	a, err = s.DemoAnalytics(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.CTAClicks)
}

func TestSQLiteStore_CTAClickBackfillsDemo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// A webhook click whose demo could not be resolved yet.
	require.NoError(t, s.UpsertCTAClick(ctx, models.CTAClick{ConversationID: "c1", CTAURL: "https://example.com/trial", ClickedAt: now}))
	require.NoError(t, s.UpsertCTAClick(ctx, models.CTAClick{ConversationID: "c1", DemoID: "d1", CTAURL: "https://example.com/trial", ClickedAt: now}))
	// A resolved demo is never overwritten.
	require.NoError(t, s.UpsertCTAClick(ctx, models.CTAClick{ConversationID: "c1", DemoID: "d2", CTAURL: "https://example.com/trial", ClickedAt: now}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM cta_clicks`).Scan(&n))
	assert.Equal(t, 1, n)

	a, err := s.DemoAnalytics(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.CTAClicks)
}

func TestSQLiteStore_VideoURL(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDemoVideo(ctx, "d1", "Product Tour", "https://cdn.example.com/tour.mp4"))

	url, err := s.VideoURL(ctx, "d1", "product tour")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/tour.mp4", url)

	_, err = s.VideoURL(ctx, "d2", "Product Tour")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}
