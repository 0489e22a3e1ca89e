package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
	"github.com/confab/confab/internal/discussion/strategy"
	"github.com/confab/confab/internal/events"
	"github.com/confab/confab/internal/events/bus"
)

// Discussion phases tracked on the runtime state. During the introduction
// phase agents that have never spoken are triggered one at a time; once
// every agent has contributed the discussion moves to the main phase and
// the turn strategy drives selection.
const (
	phaseIntroduction = "introduction"
	phaseMain         = "main"
)

// retriggerDampener suppresses asking the same participant again right
// after its own message; without it an agent that just spoke could be
// re-triggered before its message settles, producing self-chatter.
const retriggerDampener = 5 * time.Second

// contextWindow bounds the recent-message context sent with a
// participation request.
const contextWindow = 20

// triggerLoop is the periodic participation sweep.
func (s *Service) triggerLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TriggerSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepParticipation(ctx)
		}
	}
}

// SweepParticipation evaluates every active discussion for an agent
// participation trigger. Failures are logged per discussion and never
// abort the sweep.
func (s *Service) SweepParticipation(ctx context.Context) {
	active, err := s.repo.SearchDiscussions(ctx, repository.SearchOptions{Status: models.StatusActive})
	if err != nil {
		s.logger.Error("participation sweep: listing active discussions failed", zap.Error(err))
		return
	}
	for _, discussion := range active {
		if err := s.evaluateParticipation(ctx, discussion); err != nil {
			s.logger.Warn("participation evaluation failed",
				zap.String("discussion_id", discussion.ID), zap.Error(err))
		}
	}
}

// triggerInitial fires the participation trigger for a freshly started
// discussion, recording the trigger time so the next sweep respects the
// rate limit.
func (s *Service) triggerInitial(ctx context.Context, discussionID string) {
	discussion, err := s.load(ctx, discussionID, true)
	if err != nil {
		s.logger.Warn("initial participation trigger skipped",
			zap.String("discussion_id", discussionID), zap.Error(err))
		return
	}
	if err := s.evaluateParticipation(ctx, discussion); err != nil {
		s.logger.Warn("initial participation trigger failed",
			zap.String("discussion_id", discussionID), zap.Error(err))
	}
}

// evaluateParticipation applies the trigger decision policy to one active
// discussion and publishes at most one participation request.
func (s *Service) evaluateParticipation(ctx context.Context, discussion *models.Discussion) error {
	now := time.Now().UTC()

	// Per-discussion rate limit.
	s.triggerMu.Lock()
	last, triggered := s.lastTrigger[discussion.ID]
	s.triggerMu.Unlock()
	if triggered && now.Sub(last) < s.cfg.TriggerCooldown() {
		return nil
	}

	// Saturation guard: a discussion at its message cap stops here.
	if discussion.State.MessageCount >= discussion.Settings.MaxMessages {
		unlock := s.locks.acquire(discussion.ID)
		_, err := s.completeLocked(ctx, discussion.ID, eventSource, "max_messages")
		unlock()
		return err
	}

	active, err := s.participants.ActiveOf(ctx, discussion.ID)
	if err != nil {
		return err
	}
	agents := make([]*models.Participant, 0, len(active))
	for _, p := range active {
		if p.Type == models.ParticipantAgent {
			agents = append(agents, p)
		}
	}
	if len(agents) == 0 {
		return nil
	}

	target := s.selectTriggerTarget(ctx, discussion, active, agents, now)
	if target == nil {
		return nil
	}

	// Per-agent dedup window. The discussion cooldown is re-checked under
	// the same lock: concurrent evaluations (sweep loop, health nudge,
	// start-time trigger) must not both pass the early check and
	// double-trigger.
	dedupKey := target.AgentID + ":" + target.ID
	s.triggerMu.Lock()
	if last, ok := s.lastTrigger[discussion.ID]; ok && now.Sub(last) < s.cfg.TriggerCooldown() {
		s.triggerMu.Unlock()
		return nil
	}
	if lastReq, ok := s.recentRequests[dedupKey]; ok && now.Sub(lastReq) < s.cfg.AgentDedupWindow() {
		s.triggerMu.Unlock()
		return nil
	}
	s.recentRequests[dedupKey] = now
	s.lastTrigger[discussion.ID] = now
	s.triggerMu.Unlock()

	return s.publishParticipationRequest(ctx, discussion, target, active)
}

// selectTriggerTarget picks the agent to nudge, or nil when nothing should
// fire this sweep.
func (s *Service) selectTriggerTarget(ctx context.Context, discussion *models.Discussion, active, agents []*models.Participant, now time.Time) *models.Participant {
	// Introduction phase: trigger the first agent that has never spoken.
	for _, agent := range agents {
		if agent.MessageCount == 0 {
			return agent
		}
	}

	// Main phase: the strategy picks.
	strat, err := strategy.ForConfig(discussion.Strategy)
	if err != nil {
		s.logger.Warn("trigger selection: invalid strategy",
			zap.String("discussion_id", discussion.ID), zap.Error(err))
		return nil
	}
	lastMsg, err := s.lastMessage(ctx, discussion.ID)
	if err != nil {
		s.logger.Warn("trigger selection: loading last message failed",
			zap.String("discussion_id", discussion.ID), zap.Error(err))
		return nil
	}

	result := strat.NextParticipant(discussion, active, lastMsg)
	if result.NextParticipant == nil || result.NextParticipant.Type != models.ParticipantAgent {
		return nil
	}

	// Re-trigger dampener: never ask the sender of a just-arrived message
	// to immediately follow itself up.
	if lastMsg != nil && lastMsg.ParticipantID == result.NextParticipant.ID &&
		now.Sub(lastMsg.CreatedAt) < retriggerDampener {
		return nil
	}
	return result.NextParticipant
}

// publishParticipationRequest asks an external AI worker to contribute as
// the given participant, carrying a bounded recent-message context with
// resolved speaker names.
func (s *Service) publishParticipationRequest(ctx context.Context, discussion *models.Discussion, target *models.Participant, active []*models.Participant) error {
	msgs, err := s.repo.ListMessages(ctx, discussion.ID, repository.ListMessagesOptions{Limit: contextWindow})
	if err != nil {
		return err
	}

	names := make(map[string]string, len(active))
	for _, p := range active {
		names[p.ID] = p.DisplayName
	}

	recent := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		speaker := names[m.ParticipantID]
		if speaker == "" {
			speaker = m.ParticipantID
		}
		recent = append(recent, map[string]interface{}{
			"participant_id": m.ParticipantID,
			"speaker":        speaker,
			"content":        m.Content,
			"type":           string(m.Type),
			"created_at":     m.CreatedAt,
		})
	}

	participated := make([]map[string]interface{}, 0, len(active))
	for _, p := range active {
		if p.MessageCount > 0 {
			participated = append(participated, map[string]interface{}{
				"participant_id": p.ID,
				"display_name":   p.DisplayName,
			})
		}
	}

	event := bus.NewEvent(events.AgentParticipate, discussion.ID, eventSource, map[string]interface{}{
		"discussion_id":  discussion.ID,
		"agent_id":       target.AgentID,
		"participant_id": target.ID,
		"title":          discussion.Title,
		"topic":          discussion.Topic,
		"phase":          discussion.State.Phase,
		"is_initial":     target.MessageCount == 0,
		"messages":       recent,
		"participated":   participated,
	})
	if err := s.bus.Publish(ctx, events.BuildParticipateSubject(target.AgentID), event); err != nil {
		return &Error{Kind: KindBusError, Message: "participation request publish failed", Err: err}
	}

	s.logger.Info("participation requested",
		zap.String("discussion_id", discussion.ID),
		zap.String("agent_id", target.AgentID),
		zap.String("participant_id", target.ID),
		zap.String("phase", discussion.State.Phase))
	return nil
}
