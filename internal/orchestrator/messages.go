package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/events"
)

// SendMessage runs the message ingestion pipeline: resolve the sender,
// enforce the turn, normalize the type, append via the store, update
// activity counters, and emit message_sent. The sender may be identified
// by participant id or agent id. An agent's first-ever contribution sets
// metadata.IsInitialParticipation and bypasses the turn check.
func (s *Service) SendMessage(ctx context.Context, discussionID, participantOrAgentID, content, msgType string, metadata *models.MessageMetadata) (*models.Message, error) {
	unlock := s.locks.acquire(discussionID)
	defer unlock()

	if strings.TrimSpace(content) == "" {
		return nil, newError(KindInvalidConfig, "message content is empty")
	}

	discussion, err := s.load(ctx, discussionID, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status != models.StatusActive {
		return nil, newError(KindInvalidState, "cannot send messages in status %q", discussion.Status)
	}

	participant, err := s.resolveActive(ctx, discussionID, participantOrAgentID)
	if err != nil {
		return nil, err
	}

	if err := s.checkTurn(discussion, participant, metadata); err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:            uuid.New().String(),
		DiscussionID:  discussionID,
		ParticipantID: participant.ID,
		Content:       content,
		Type:          models.NormalizeMessageType(msgType),
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.AppendMessage(ctx, message); err != nil {
		return nil, storeError(err)
	}

	if err := s.participants.RecordActivity(ctx, participant.ID); err != nil {
		s.logger.Warn("participant activity update failed",
			zap.String("participant_id", participant.ID), zap.Error(err))
	}

	discussion.State.MessageCount++
	discussion.State.LastActivityAt = message.CreatedAt
	if discussion.State.Phase == phaseIntroduction {
		if done, err := s.introductionDone(ctx, discussionID); err == nil && done {
			discussion.State.Phase = phaseMain
		}
	}
	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}

	s.emit(ctx, events.MessageSent, discussionID, map[string]interface{}{
		"message_id":     message.ID,
		"participant_id": participant.ID,
		"content":        message.Content,
		"message_type":   string(message.Type),
	})

	// Crossing the message cap completes the discussion.
	if discussion.State.MessageCount >= discussion.Settings.MaxMessages {
		if _, err := s.completeLocked(ctx, discussionID, eventSource, "max_messages"); err != nil {
			s.logger.Error("message-cap completion failed",
				zap.String("discussion_id", discussionID), zap.Error(err))
		}
	}
	return message, nil
}

// checkTurn enforces turn ownership for non-free-form strategies. The
// initial-participation flag lets an agent's first contribution through
// out of turn.
func (s *Service) checkTurn(discussion *models.Discussion, participant *models.Participant, metadata *models.MessageMetadata) error {
	if discussion.Strategy.Kind == models.StrategyFreeForm {
		return nil
	}
	owner := discussion.State.CurrentTurnParticipantID
	if owner == "" || owner == participant.ID {
		return nil
	}
	if metadata != nil && metadata.IsInitialParticipation {
		return nil
	}
	return newError(KindNotYourTurn, "it is not participant %s's turn", participant.ID)
}

// introductionDone reports whether every active agent has spoken at least
// once.
func (s *Service) introductionDone(ctx context.Context, discussionID string) (bool, error) {
	active, err := s.participants.ActiveOf(ctx, discussionID)
	if err != nil {
		return false, err
	}
	for _, p := range active {
		if p.Type == models.ParticipantAgent && p.MessageCount == 0 {
			return false, nil
		}
	}
	return true, nil
}
