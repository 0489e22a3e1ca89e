package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confab/confab/internal/discussion/models"
)

func newSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "confab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteDiscussionRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	d := &models.Discussion{
		Title:     "Persisted review",
		Topic:     "storage",
		CreatedBy: "user-1",
		Status:    models.StatusActive,
		Strategy: models.StrategyConfig{
			Kind:                   models.StrategyModerated,
			ModeratorParticipantID: "p-mod",
			Queue:                  []string{"p-2", "p-3"},
		},
		Settings: models.DefaultSettings(),
		State: models.RuntimeState{
			CurrentTurnParticipantID: "p-mod",
			TurnNumber:               2,
			TurnStartedAt:            &now,
			Phase:                    "main",
			MessageCount:             4,
			LastActivityAt:           now,
		},
		Metadata: map[string]string{"team": "core"},
	}
	require.NoError(t, repo.CreateDiscussion(ctx, d))
	require.NotEmpty(t, d.ID)

	got, err := repo.GetDiscussion(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persisted review", got.Title)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, models.StrategyModerated, got.Strategy.Kind)
	assert.Equal(t, []string{"p-2", "p-3"}, got.Strategy.Queue)
	assert.Equal(t, "p-mod", got.State.CurrentTurnParticipantID)
	assert.Equal(t, 2, got.State.TurnNumber)
	require.NotNil(t, got.State.TurnStartedAt)
	assert.WithinDuration(t, now, *got.State.TurnStartedAt, time.Second)
	assert.Equal(t, map[string]string{"team": "core"}, got.Metadata)

	got.Status = models.StatusPaused
	got.Strategy.Queue = []string{"p-3"}
	require.NoError(t, repo.UpdateDiscussion(ctx, got))

	updated, err := repo.GetDiscussion(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, updated.Status)
	assert.Equal(t, []string{"p-3"}, updated.Strategy.Queue)

	_, err = repo.GetDiscussion(ctx, "missing")
	assert.ErrorIs(t, err, ErrDiscussionNotFound)
	assert.ErrorIs(t, repo.UpdateDiscussion(ctx, &models.Discussion{ID: "missing"}), ErrDiscussionNotFound)
}

func TestSQLiteParticipants(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	d := newDiscussion("Seats", "u1")
	require.NoError(t, repo.CreateDiscussion(ctx, d))

	a := seat(d.ID, "agent-a")
	b := seat(d.ID, "agent-b")
	require.NoError(t, repo.CreateParticipant(ctx, a))
	require.NoError(t, repo.CreateParticipant(ctx, b))

	active, err := repo.GetActiveParticipants(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	byAgent, err := repo.GetParticipantByAgentID(ctx, d.ID, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byAgent.ID)

	now := time.Now().UTC()
	a.Active = false
	a.MessageCount = 3
	a.LastMessageAt = &now
	require.NoError(t, repo.UpdateParticipant(ctx, a))

	active, err = repo.GetActiveParticipants(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "agent-b", active[0].AgentID)

	all, err := repo.ListParticipants(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	stored, err := repo.GetParticipant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MessageCount)
	require.NotNil(t, stored.LastMessageAt)

	_, err = repo.GetParticipantByAgentID(ctx, d.ID, "agent-z")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestSQLiteMessages(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	d := newDiscussion("Messages", "u1")
	require.NoError(t, repo.CreateDiscussion(ctx, d))

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 4; i++ {
		msg := &models.Message{
			DiscussionID:  d.ID,
			ParticipantID: "p1",
			Content:       string(rune('a' + i)),
			Type:          models.TypeMessage,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if i == 0 {
			msg.Metadata = &models.MessageMetadata{IsInitialParticipation: true}
		}
		require.NoError(t, repo.AppendMessage(ctx, msg))
	}

	count, err := repo.CountMessages(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	window, err := repo.ListMessages(ctx, d.ID, ListMessagesOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "c", window[0].Content)
	assert.Equal(t, "d", window[1].Content)

	all, err := repo.ListMessages(ctx, d.ID, ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.NotNil(t, all[0].Metadata)
	assert.True(t, all[0].Metadata.IsInitialParticipation)

	first := all[0]
	first.Reactions = append(first.Reactions, models.Reaction{ParticipantID: "p2", Emoji: "🎉", CreatedAt: time.Now().UTC()})
	require.NoError(t, repo.UpdateMessage(ctx, first))

	reloaded, err := repo.GetMessage(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Reactions, 1)
	assert.Equal(t, "🎉", reloaded.Reactions[0].Emoji)
}
