// Package participants manages participant seats: lookup by participant or
// agent id, active-set queries, and activity accounting. All reads and
// writes go through the storage port; the orchestrator never touches the
// store directly for participants.
package participants

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
)

// engagementStep is the per-message engagement increment; engagement is
// capped at 1.0.
const engagementStep = 0.1

// Manager provides participant operations over the storage port.
type Manager struct {
	repo   repository.Repository
	logger *logger.Logger
}

// NewManager creates a participant manager.
func NewManager(repo repository.Repository, log *logger.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "participants")),
	}
}

// Add creates a new participant seat in a discussion.
func (m *Manager) Add(ctx context.Context, participant *models.Participant) error {
	participant.Active = true
	if err := m.repo.CreateParticipant(ctx, participant); err != nil {
		return err
	}
	m.logger.Info("participant added",
		zap.String("discussion_id", participant.DiscussionID),
		zap.String("participant_id", participant.ID),
		zap.String("type", string(participant.Type)))
	return nil
}

// Remove tombstones a participant. The row is kept so message history stays
// attributable.
func (m *Manager) Remove(ctx context.Context, participantID string) (*models.Participant, error) {
	participant, err := m.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !participant.Active {
		return participant, nil
	}
	participant.Active = false
	if err := m.repo.UpdateParticipant(ctx, participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// ByID retrieves a participant by its participant id.
func (m *Manager) ByID(ctx context.Context, participantID string) (*models.Participant, error) {
	return m.repo.GetParticipant(ctx, participantID)
}

// ByAgentID retrieves the seat an agent holds in a discussion.
func (m *Manager) ByAgentID(ctx context.Context, discussionID, agentID string) (*models.Participant, error) {
	return m.repo.GetParticipantByAgentID(ctx, discussionID, agentID)
}

// Resolve looks a participant up by participant id first, then by agent id
// scoped to the discussion. External callers may pass either; arbitrary ids
// fail with the repository's not-found error.
func (m *Manager) Resolve(ctx context.Context, discussionID, participantOrAgentID string) (*models.Participant, error) {
	participant, err := m.repo.GetParticipant(ctx, participantOrAgentID)
	if err == nil && participant.DiscussionID == discussionID {
		return participant, nil
	}
	return m.repo.GetParticipantByAgentID(ctx, discussionID, participantOrAgentID)
}

// ActiveOf returns the active participants of a discussion in insertion
// order.
func (m *Manager) ActiveOf(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	return m.repo.GetActiveParticipants(ctx, discussionID)
}

// ListOf returns all participants of a discussion, tombstones included.
func (m *Manager) ListOf(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	return m.repo.ListParticipants(ctx, discussionID)
}

// RecordActivity applies the additive activity update for one accepted
// message: message count +1, contribution +1, engagement +0.1 capped at
// 1.0, last-message time set to now.
func (m *Manager) RecordActivity(ctx context.Context, participantID string) error {
	participant, err := m.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	participant.MessageCount++
	participant.ContributionScore++
	participant.EngagementLevel = min(1.0, participant.EngagementLevel+engagementStep)
	participant.LastMessageAt = &now

	return m.repo.UpdateParticipant(ctx, participant)
}

// HasUser reports whether the given user holds an active seat in the
// discussion.
func (m *Manager) HasUser(ctx context.Context, discussionID, userID string) (bool, error) {
	active, err := m.repo.GetActiveParticipants(ctx, discussionID)
	if err != nil {
		return false, err
	}
	for _, p := range active {
		if p.Type == models.ParticipantUser && p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
