package participants

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
)

func newTestManager() (*Manager, repository.Repository) {
	repo := repository.NewMemoryRepository()
	return NewManager(repo, logger.Default()), repo
}

func addAgent(t *testing.T, m *Manager, discussionID, agentID string) *models.Participant {
	t.Helper()
	p := &models.Participant{
		DiscussionID: discussionID,
		Type:         models.ParticipantAgent,
		AgentID:      agentID,
		DisplayName:  agentID,
	}
	if err := m.Add(context.Background(), p); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return p
}

func TestResolvePrefersParticipantID(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p := addAgent(t, m, "d1", "agent-a")

	byParticipant, err := m.Resolve(ctx, "d1", p.ID)
	if err != nil {
		t.Fatalf("Resolve by participant id: %v", err)
	}
	if byParticipant.ID != p.ID {
		t.Fatal("wrong seat resolved")
	}

	byAgent, err := m.Resolve(ctx, "d1", "agent-a")
	if err != nil {
		t.Fatalf("Resolve by agent id: %v", err)
	}
	if byAgent.ID != p.ID {
		t.Fatal("agent id must resolve to the same seat")
	}

	if _, err := m.Resolve(ctx, "d1", "unknown"); !errors.Is(err, repository.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestResolveIgnoresSeatsFromOtherDiscussions(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	foreign := addAgent(t, m, "d2", "agent-a")

	// A valid participant id from another discussion must not resolve here.
	if _, err := m.Resolve(ctx, "d1", foreign.ID); !errors.Is(err, repository.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestRecordActivity(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p := addAgent(t, m, "d1", "agent-a")

	for i := 0; i < 12; i++ {
		if err := m.RecordActivity(ctx, p.ID); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}

	updated, err := m.ByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if updated.MessageCount != 12 {
		t.Fatalf("message count = %d, want 12", updated.MessageCount)
	}
	if updated.ContributionScore != 12 {
		t.Fatalf("contribution = %v, want 12", updated.ContributionScore)
	}
	if math.Abs(updated.EngagementLevel-1.0) > 1e-9 {
		t.Fatalf("engagement = %v, want capped at 1.0", updated.EngagementLevel)
	}
	if updated.LastMessageAt == nil {
		t.Fatal("last message time must be set")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p := addAgent(t, m, "d1", "agent-a")

	removed, err := m.Remove(ctx, p.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.Active {
		t.Fatal("removed seat must be inactive")
	}

	again, err := m.Remove(ctx, p.ID)
	if err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if again.Active {
		t.Fatal("repeated removal must stay inactive")
	}

	active, err := m.ActiveOf(ctx, "d1")
	if err != nil {
		t.Fatalf("ActiveOf: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active seats, got %d", len(active))
	}
	all, err := m.ListOf(ctx, "d1")
	if err != nil {
		t.Fatalf("ListOf: %v", err)
	}
	if len(all) != 1 {
		t.Fatal("tombstoned seat must remain listed")
	}
}

func TestHasUser(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	user := &models.Participant{
		DiscussionID: "d1",
		Type:         models.ParticipantUser,
		UserID:       "user-1",
		DisplayName:  "User One",
	}
	if err := m.Add(ctx, user); err != nil {
		t.Fatalf("Add: %v", err)
	}
	addAgent(t, m, "d1", "agent-a")

	ok, err := m.HasUser(ctx, "d1", "user-1")
	if err != nil {
		t.Fatalf("HasUser: %v", err)
	}
	if !ok {
		t.Fatal("expected user-1 to hold a seat")
	}
	if ok, _ := m.HasUser(ctx, "d1", "user-2"); ok {
		t.Fatal("user-2 holds no seat")
	}

	if _, err := m.Remove(ctx, user.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := m.HasUser(ctx, "d1", "user-1"); ok {
		t.Fatal("tombstoned user seat must not count")
	}
}
