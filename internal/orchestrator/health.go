package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
)

// healthLoop periodically inspects active discussions for inactivity and
// agent-participation gaps.
func (s *Service) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// CheckHealth scans active discussions. Inactive ones are logged; stalled
// agents are nudged through the regular trigger path, so the rate limit
// and dedup windows still apply.
func (s *Service) CheckHealth(ctx context.Context) {
	active, err := s.repo.SearchDiscussions(ctx, repository.SearchOptions{Status: models.StatusActive})
	if err != nil {
		s.logger.Error("health check: listing active discussions failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, discussion := range active {
		idle := now.Sub(discussion.State.LastActivityAt)
		if idle > s.cfg.InactiveAfter() {
			s.logger.Warn("discussion inactive",
				zap.String("discussion_id", discussion.ID),
				zap.Duration("idle", idle))
		}

		if stalled := s.stalledAgent(ctx, discussion, now); stalled != nil {
			if err := s.nudgeStalled(ctx, discussion, stalled); err != nil {
				s.logger.Warn("health nudge failed",
					zap.String("discussion_id", discussion.ID),
					zap.String("participant_id", stalled.ID),
					zap.Error(err))
			}
		}
	}
}

// stalledAgent detects an agent-participation gap. For free-form
// discussions that is the least-recently-spoken agent after a quiet spell;
// for turn-based ones, only a current-turn owner that has let its turn
// expire without speaking counts. Never more than a single agent.
func (s *Service) stalledAgent(ctx context.Context, discussion *models.Discussion, now time.Time) *models.Participant {
	if discussion.Strategy.Kind == models.StrategyFreeForm {
		if now.Sub(discussion.State.LastActivityAt) < s.cfg.TriggerCooldown() {
			return nil
		}
		active, err := s.participants.ActiveOf(ctx, discussion.ID)
		if err != nil {
			return nil
		}
		var quiet *models.Participant
		for _, p := range active {
			if p.Type != models.ParticipantAgent {
				continue
			}
			if p.LastMessageAt == nil {
				return p
			}
			if quiet == nil || p.LastMessageAt.Before(*quiet.LastMessageAt) {
				quiet = p
			}
		}
		return quiet
	}

	owner := discussion.State.CurrentTurnParticipantID
	if owner == "" || discussion.State.TurnExpectedEndAt == nil || now.Before(*discussion.State.TurnExpectedEndAt) {
		return nil
	}
	participant, err := s.participants.ByID(ctx, owner)
	if err != nil || participant.Type != models.ParticipantAgent || !participant.Active {
		return nil
	}
	if participant.LastMessageAt != nil && discussion.State.TurnStartedAt != nil &&
		participant.LastMessageAt.After(*discussion.State.TurnStartedAt) {
		return nil
	}
	return participant
}

// nudgeStalled re-prompts the specific stalled agent. Under a turn-based
// strategy that is the current turn owner, so selection must not run again:
// the strategy would pick the owner's successor, whose message the turn
// check then rejects. The trigger rate limit and dedup window still apply.
func (s *Service) nudgeStalled(ctx context.Context, discussion *models.Discussion, target *models.Participant) error {
	now := time.Now().UTC()
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

	active, err := s.participants.ActiveOf(ctx, discussion.ID)
	if err != nil {
		return err
	}
	return s.publishParticipationRequest(ctx, discussion, target, active)
}

// cleanupLoop periodically scrubs the rate-limit maps and orphaned
// operation locks.
func (s *Service) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Cleanup drops expired rate-limit and dedup entries and scrubs orphaned
// operation locks. Safe to call at any time.
func (s *Service) Cleanup() {
	now := time.Now().UTC()

	s.triggerMu.Lock()
	scrubbed := 0
	for id, t := range s.lastTrigger {
		if now.Sub(t) > s.cfg.TriggerCooldown() {
			delete(s.lastTrigger, id)
			scrubbed++
		}
	}
	for key, t := range s.recentRequests {
		if now.Sub(t) > s.cfg.AgentDedupWindow() {
			delete(s.recentRequests, key)
			scrubbed++
		}
	}
	s.triggerMu.Unlock()

	orphaned := s.locks.scrubOrphans(orphanLockAge)
	if scrubbed > 0 || orphaned > 0 {
		s.logger.Debug("cleanup pass",
			zap.Int("rate_entries_scrubbed", scrubbed),
			zap.Int("locks_scrubbed", orphaned))
	}
}
