// Package orchestrator hosts concurrent multi-participant discussions: the
// lifecycle state machine, turn scheduling, the message pipeline, and the
// periodic loops that trigger agent participation and keep resources tidy.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/config"
	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/participants"
	"github.com/confab/confab/internal/discussion/repository"
	"github.com/confab/confab/internal/discussion/strategy"
	"github.com/confab/confab/internal/events"
	"github.com/confab/confab/internal/events/bus"
)

// eventSource tags every event this service emits.
const eventSource = "orchestrator"

// Broadcaster fans an event out to the live subscribers of a discussion.
// Delivery to one subscriber must never block the others.
type Broadcaster interface {
	Broadcast(discussionID string, event *bus.Event)
}

// Service is the discussion orchestrator. All public commands are safe for
// concurrent use; commands for the same discussion serialize on a
// per-discussion operation lock.
type Service struct {
	cfg          config.DiscussionConfig
	repo         repository.Repository
	bus          bus.EventBus
	broadcaster  Broadcaster
	participants *participants.Manager
	cache        *Cache
	timers       *TimerRegistry
	locks        *lockRegistry
	logger       *logger.Logger

	// Participation trigger state, shared by the sweep, the health
	// monitor, and the start-time initial trigger.
	triggerMu      sync.Mutex
	lastTrigger    map[string]time.Time // discussion id -> last trigger
	recentRequests map[string]time.Time // agent id + participant id -> last request

	runMu     sync.Mutex
	running   bool
	startedAt time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewService wires the orchestrator. broadcaster may be nil when no live
// subscriber transport is attached.
func NewService(
	cfg config.DiscussionConfig,
	repo repository.Repository,
	eventBus bus.EventBus,
	broadcaster Broadcaster,
	log *logger.Logger,
) *Service {
	s := &Service{
		cfg:            cfg,
		repo:           repo,
		bus:            eventBus,
		broadcaster:    broadcaster,
		participants:   participants.NewManager(repo, log),
		timers:         NewTimerRegistry(log),
		locks:          newLockRegistry(),
		logger:         log.WithFields(zap.String("component", "orchestrator")),
		lastTrigger:    make(map[string]time.Time),
		recentRequests: make(map[string]time.Time),
	}
	// Evicting a discussion must also drop its turn timer, otherwise a
	// stale callback could fire against state only the store remembers.
	s.cache = NewCache(repo, cfg.CacheTTL(), cfg.CacheSweepInterval(), func(discussionID string) {
		s.timers.Cancel(discussionID)
	}, log)
	return s
}

// Start launches the background loops: cache eviction, the participation
// sweep, the health monitor, and the cleanup task.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now().UTC()
	s.stopCh = make(chan struct{})
	s.runMu.Unlock()

	s.cache.Start()

	s.wg.Add(3)
	go s.triggerLoop(ctx)
	go s.healthLoop(ctx)
	go s.cleanupLoop(ctx)

	go s.requestEnhancements(ctx)

	s.logger.Info("orchestrator started",
		zap.Duration("trigger_sweep", s.cfg.TriggerSweepInterval()),
		zap.Duration("health_interval", s.cfg.HealthInterval()),
		zap.Duration("cache_ttl", s.cfg.CacheTTL()))
	return nil
}

// Stop halts the background loops and cancels all outstanding timers.
func (s *Service) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()

	s.wg.Wait()
	s.cache.Stop()
	s.timers.CancelAll()
	s.logger.Info("orchestrator stopped")
}

// requestEnhancements sends the bulk conversation-enhancement query for
// discussions that were active before a restart. Best effort: a missing
// responder is expected when no enhancement worker is deployed.
func (s *Service) requestEnhancements(ctx context.Context) {
	active, err := s.repo.SearchDiscussions(ctx, repository.SearchOptions{Status: models.StatusActive})
	if err != nil {
		s.logger.Warn("enhancement query: listing active discussions failed", zap.Error(err))
		return
	}
	if len(active) == 0 {
		return
	}

	ids := make([]string, 0, len(active))
	for _, d := range active {
		ids = append(ids, d.ID)
	}
	event := bus.NewEvent(events.EnhancementRequest, "", eventSource, map[string]interface{}{
		"discussion_ids": ids,
	})
	reply, err := s.bus.Request(ctx, events.EnhancementRequest, event, 5*time.Second)
	if err != nil {
		s.logger.Debug("enhancement query got no response", zap.Error(err))
		return
	}
	s.logger.Info("enhancement query answered",
		zap.Int("discussions", len(ids)),
		zap.String("reply_event", reply.ID))
}

// CreateDiscussionRequest is the input to CreateDiscussion.
type CreateDiscussionRequest struct {
	Title       string
	Topic       string
	Description string
	Strategy    models.StrategyConfig
	Settings    *models.Settings
	Metadata    map[string]string
}

// ParticipantSpec describes a seat to add to a discussion.
type ParticipantSpec struct {
	Type        models.ParticipantType
	AgentID     string
	UserID      string
	Role        string
	DisplayName string
}

// CreateDiscussion validates the request and persists a new discussion in
// draft state. Strategy configuration is rejected eagerly.
func (s *Service) CreateDiscussion(ctx context.Context, req CreateDiscussionRequest, createdBy string) (*models.Discussion, error) {
	if req.Title == "" {
		return nil, newError(KindInvalidConfig, "discussion title is required")
	}

	strategyCfg := req.Strategy
	if strategyCfg.Kind == "" {
		strategyCfg.Kind = models.StrategyRoundRobin
	}
	if err := strategy.Validate(strategyCfg); err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Message: "invalid strategy configuration", Err: err}
	}

	settings := s.defaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if settings.MaxParticipants <= 0 || settings.MaxMessages <= 0 || settings.TurnTimeoutSeconds <= 0 {
		return nil, newError(KindInvalidConfig, "settings limits must be positive")
	}

	now := time.Now().UTC()
	discussion := &models.Discussion{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Topic:       req.Topic,
		Description: req.Description,
		CreatedBy:   createdBy,
		Status:      models.StatusDraft,
		Strategy:    strategyCfg,
		Settings:    settings,
		State:       models.RuntimeState{LastActivityAt: now},
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateDiscussion(ctx, discussion); err != nil {
		return nil, storeError(err)
	}
	s.cache.Put(discussion)

	s.logger.Info("discussion created",
		zap.String("discussion_id", discussion.ID),
		zap.String("strategy", string(strategyCfg.Kind)),
		zap.String("created_by", createdBy))
	return discussion, nil
}

// StartDiscussion moves a draft discussion to active: it assigns the first
// turn, arms the turn timer, and fires the initial participation trigger
// for agent participants.
func (s *Service) StartDiscussion(ctx context.Context, id, startedBy string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	discussion, err := s.startLocked(ctx, id, startedBy)
	unlock()
	if err != nil {
		return nil, err
	}

	// The initial trigger runs outside the operation lock: it may need to
	// publish and, on saturation, take the lock itself.
	s.triggerInitial(ctx, discussion.ID)
	return discussion, nil
}

func (s *Service) startLocked(ctx context.Context, id, startedBy string) (*models.Discussion, error) {
	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !discussion.Status.CanTransitionTo(models.StatusActive) {
		return nil, newError(KindInvalidState, "cannot start discussion in status %q", discussion.Status)
	}

	active, err := s.participants.ActiveOf(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if len(active) < 2 {
		return nil, newError(KindInvalidState, "discussion needs at least 2 active participants to start")
	}

	strat, err := strategy.ForConfig(discussion.Strategy)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Message: "invalid strategy configuration", Err: err}
	}

	previous := discussion.Status
	now := time.Now().UTC()
	discussion.Status = models.StatusActive
	discussion.State.Phase = phaseIntroduction
	discussion.State.LastActivityAt = now

	result := strat.NextParticipant(discussion, active, nil)
	if result.NextParticipant != nil {
		s.setTurn(discussion, result)
	}

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	if result.NextParticipant != nil {
		s.scheduleTurnTimer(discussion)
	}

	s.emit(ctx, events.StatusChanged, discussion.ID, map[string]interface{}{
		"status":          string(discussion.Status),
		"previous_status": string(previous),
		"changed_by":      startedBy,
	})
	if result.NextParticipant != nil {
		s.emitTurnChanged(ctx, discussion)
	}

	s.logger.Info("discussion started",
		zap.String("discussion_id", id),
		zap.Int("active_participants", len(active)),
		zap.String("started_by", startedBy))
	return discussion, nil
}

// PauseDiscussion suspends an active discussion and cancels its turn
// timer. Pausing an already paused discussion is a no-op.
func (s *Service) PauseDiscussion(ctx context.Context, id, pausedBy string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status == models.StatusPaused {
		return discussion, nil
	}
	if !discussion.Status.CanTransitionTo(models.StatusPaused) {
		return nil, newError(KindInvalidState, "cannot pause discussion in status %q", discussion.Status)
	}

	s.timers.Cancel(id)
	previous := discussion.Status
	discussion.Status = models.StatusPaused
	discussion.State.LastActivityAt = time.Now().UTC()

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	s.emit(ctx, events.StatusChanged, id, map[string]interface{}{
		"status":          string(discussion.Status),
		"previous_status": string(previous),
		"changed_by":      pausedBy,
	})
	return discussion, nil
}

// ResumeDiscussion reactivates a paused discussion. If a turn owner is
// set, a fresh timer is armed from the discussion's configured timeout.
func (s *Service) ResumeDiscussion(ctx context.Context, id, resumedBy string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status != models.StatusPaused {
		return nil, newError(KindInvalidState, "cannot resume discussion in status %q", discussion.Status)
	}

	previous := discussion.Status
	now := time.Now().UTC()
	discussion.Status = models.StatusActive
	discussion.State.LastActivityAt = now
	if discussion.State.CurrentTurnParticipantID != "" {
		timeout := discussion.Settings.TurnTimeout()
		expectedEnd := now.Add(timeout)
		discussion.State.TurnStartedAt = &now
		discussion.State.TurnExpectedEndAt = &expectedEnd
	}

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	if discussion.State.CurrentTurnParticipantID != "" {
		s.scheduleTurnTimer(discussion)
	}

	s.emit(ctx, events.StatusChanged, id, map[string]interface{}{
		"status":          string(discussion.Status),
		"previous_status": string(previous),
		"changed_by":      resumedBy,
	})
	return discussion, nil
}

// StopDiscussion completes an active or paused discussion.
func (s *Service) StopDiscussion(ctx context.Context, id, stoppedBy string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()
	return s.completeLocked(ctx, id, stoppedBy, "stopped")
}

// ArchiveDiscussion archives a discussion from any state.
func (s *Service) ArchiveDiscussion(ctx context.Context, id, archivedBy string) (*models.Discussion, error) {
	return s.terminate(ctx, id, archivedBy, models.StatusArchived)
}

// CancelDiscussion cancels a discussion from any state.
func (s *Service) CancelDiscussion(ctx context.Context, id, cancelledBy string) (*models.Discussion, error) {
	return s.terminate(ctx, id, cancelledBy, models.StatusCancelled)
}

func (s *Service) terminate(ctx context.Context, id, by string, target models.Status) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status == target {
		return discussion, nil
	}

	s.timers.Cancel(id)
	previous := discussion.Status
	discussion.Status = target
	discussion.State.CurrentTurnParticipantID = ""
	discussion.State.TurnStartedAt = nil
	discussion.State.TurnExpectedEndAt = nil
	discussion.State.LastActivityAt = time.Now().UTC()

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	s.emit(ctx, events.StatusChanged, id, map[string]interface{}{
		"status":          string(target),
		"previous_status": string(previous),
		"changed_by":      by,
	})
	return discussion, nil
}

// completeLocked transitions a discussion to completed. Callers hold the
// operation lock.
func (s *Service) completeLocked(ctx context.Context, id, by, reason string) (*models.Discussion, error) {
	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status == models.StatusCompleted {
		return discussion, nil
	}
	if !discussion.Status.CanTransitionTo(models.StatusCompleted) {
		return nil, newError(KindInvalidState, "cannot complete discussion in status %q", discussion.Status)
	}

	s.timers.Cancel(id)
	previous := discussion.Status
	discussion.Status = models.StatusCompleted
	discussion.State.CurrentTurnParticipantID = ""
	discussion.State.TurnStartedAt = nil
	discussion.State.TurnExpectedEndAt = nil
	discussion.State.LastActivityAt = time.Now().UTC()

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	s.emit(ctx, events.StatusChanged, id, map[string]interface{}{
		"status":          string(models.StatusCompleted),
		"previous_status": string(previous),
		"changed_by":      by,
		"reason":          reason,
	})
	s.logger.Info("discussion completed",
		zap.String("discussion_id", id),
		zap.String("reason", reason))
	return discussion, nil
}

// AddParticipant creates a new seat in a discussion. Adding an agent that
// already holds an active seat returns the existing seat.
func (s *Service) AddParticipant(ctx context.Context, id string, spec ParticipantSpec, addedBy string) (*models.Participant, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	switch discussion.Status {
	case models.StatusCompleted, models.StatusArchived, models.StatusCancelled:
		return nil, newError(KindInvalidState, "cannot join discussion in status %q", discussion.Status)
	}

	switch spec.Type {
	case models.ParticipantAgent:
		if spec.AgentID == "" {
			return nil, newError(KindInvalidConfig, "agent participants require an agent id")
		}
	case models.ParticipantUser:
		if spec.UserID == "" {
			return nil, newError(KindInvalidConfig, "user participants require a user id")
		}
	default:
		return nil, newError(KindInvalidConfig, "unknown participant type %q", spec.Type)
	}

	if spec.Type == models.ParticipantAgent {
		if existing, err := s.participants.ByAgentID(ctx, id, spec.AgentID); err == nil && existing.Active {
			return existing, nil
		}
	}

	active, err := s.participants.ActiveOf(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if len(active) >= discussion.Settings.MaxParticipants {
		return nil, newError(KindLimitExceeded, "discussion is full (%d participants)", discussion.Settings.MaxParticipants)
	}

	displayName := spec.DisplayName
	if displayName == "" {
		if spec.Type == models.ParticipantAgent {
			displayName = spec.AgentID
		} else {
			displayName = spec.UserID
		}
	}

	now := time.Now().UTC()
	participant := &models.Participant{
		ID:           uuid.New().String(),
		DiscussionID: id,
		Type:         spec.Type,
		AgentID:      spec.AgentID,
		UserID:       spec.UserID,
		Role:         spec.Role,
		DisplayName:  displayName,
		JoinedAt:     now,
		UpdatedAt:    now,
	}
	if err := s.participants.Add(ctx, participant); err != nil {
		return nil, storeError(err)
	}

	discussion.State.LastActivityAt = now
	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}

	s.emit(ctx, events.ParticipantJoined, id, map[string]interface{}{
		"participant_id": participant.ID,
		"type":           string(participant.Type),
		"display_name":   participant.DisplayName,
		"added_by":       addedBy,
	})
	return participant, nil
}

// RemoveParticipant tombstones a seat. If the removed participant owned
// the current turn, the turn advances.
func (s *Service) RemoveParticipant(ctx context.Context, id, participantID, removedBy string) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return err
	}

	// Ownership is checked before the tombstone so a wrong discussion id
	// cannot deactivate a seat elsewhere.
	participant, err := s.participants.ByID(ctx, participantID)
	if err != nil {
		return storeError(err)
	}
	if participant.DiscussionID != id {
		return newError(KindParticipantNotFound, "participant %s does not belong to discussion %s", participantID, id)
	}
	participant, err = s.participants.Remove(ctx, participantID)
	if err != nil {
		return storeError(err)
	}

	s.emit(ctx, events.ParticipantLeft, id, map[string]interface{}{
		"participant_id": participant.ID,
		"display_name":   participant.DisplayName,
		"removed_by":     removedBy,
	})

	if discussion.State.CurrentTurnParticipantID == participantID && discussion.Status == models.StatusActive {
		if _, err := s.advanceTurnLocked(ctx, discussion); err != nil {
			return err
		}
	}
	return nil
}

// AdvanceTurn moves the turn to the next participant selected by the
// discussion's strategy, rescheduling the turn timer.
func (s *Service) AdvanceTurn(ctx context.Context, id, advancedBy string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status != models.StatusActive {
		return nil, newError(KindInvalidState, "cannot advance turn in status %q", discussion.Status)
	}
	return s.advanceTurnLocked(ctx, discussion)
}

// advanceTurnLocked performs the turn handoff. Callers hold the operation
// lock and pass a freshly loaded discussion.
func (s *Service) advanceTurnLocked(ctx context.Context, discussion *models.Discussion) (*models.Discussion, error) {
	s.timers.Cancel(discussion.ID)

	// Free-form discussions have no enforced turn; advancing just clears
	// the owner.
	if discussion.Strategy.Kind == models.StrategyFreeForm {
		s.clearTurn(discussion)
		if err := s.persist(ctx, discussion); err != nil {
			return nil, err
		}
		s.emitTurnChanged(ctx, discussion)
		return discussion, nil
	}

	active, err := s.participants.ActiveOf(ctx, discussion.ID)
	if err != nil {
		return nil, storeError(err)
	}
	strat, err := strategy.ForConfig(discussion.Strategy)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Message: "invalid strategy configuration", Err: err}
	}
	last, err := s.lastMessage(ctx, discussion.ID)
	if err != nil {
		return nil, storeError(err)
	}

	result := strat.NextParticipant(discussion, active, last)
	if result.NextParticipant == nil {
		s.clearTurn(discussion)
		if err := s.persist(ctx, discussion); err != nil {
			return nil, err
		}
		s.emitTurnChanged(ctx, discussion)
		return discussion, nil
	}

	if discussion.Strategy.Kind == models.StrategyModerated {
		discussion.Strategy.Queue = removeFromQueue(discussion.Strategy.Queue, result.NextParticipant.ID)
	}

	s.setTurn(discussion, result)
	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	s.scheduleTurnTimer(discussion)
	s.emitTurnChanged(ctx, discussion)
	return discussion, nil
}

// RequestTurn queues a participant for the moderator to call on. Only
// meaningful under the moderated strategy.
func (s *Service) RequestTurn(ctx context.Context, id, participantID string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Strategy.Kind != models.StrategyModerated {
		return nil, newError(KindInvalidState, "turn requests only apply to moderated discussions")
	}

	participant, err := s.resolveActive(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	for _, queued := range discussion.Strategy.Queue {
		if queued == participant.ID {
			return discussion, nil
		}
	}
	discussion.Strategy.Queue = append(discussion.Strategy.Queue, participant.ID)
	discussion.State.LastActivityAt = time.Now().UTC()

	if err := s.persist(ctx, discussion); err != nil {
		return nil, err
	}
	return discussion, nil
}

// EndTurn lets the current turn owner yield; the strategy decides who
// speaks next.
func (s *Service) EndTurn(ctx context.Context, id, participantID string) (*models.Discussion, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if discussion.Status != models.StatusActive {
		return nil, newError(KindInvalidState, "cannot end turn in status %q", discussion.Status)
	}

	participant, err := s.resolveActive(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	owner := discussion.State.CurrentTurnParticipantID
	if owner != "" && owner != participant.ID {
		return nil, newError(KindNotYourTurn, "participant %s does not own the current turn", participant.ID)
	}
	return s.advanceTurnLocked(ctx, discussion)
}

// AddReaction attaches an emoji reaction to a message.
func (s *Service) AddReaction(ctx context.Context, id, messageID, participantID, emoji string) (*models.Message, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if !discussion.Settings.AllowReactions {
		return nil, newError(KindInvalidState, "reactions are disabled for this discussion")
	}
	if emoji == "" {
		return nil, newError(KindInvalidConfig, "reaction emoji is required")
	}

	participant, err := s.resolveActive(ctx, id, participantID)
	if err != nil {
		return nil, err
	}

	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError(err)
	}
	if message.DiscussionID != id {
		return nil, newError(KindNotFound, "message %s does not belong to discussion %s", messageID, id)
	}

	message.Reactions = append(message.Reactions, models.Reaction{
		ParticipantID: participant.ID,
		Emoji:         emoji,
		CreatedAt:     time.Now().UTC(),
	})
	if err := s.repo.UpdateMessage(ctx, message); err != nil {
		return nil, storeError(err)
	}

	s.emit(ctx, events.ReactionAdded, id, map[string]interface{}{
		"message_id":     message.ID,
		"participant_id": participant.ID,
		"emoji":          emoji,
	})
	return message, nil
}

// GetDiscussion returns the discussion, optionally bypassing the cache.
func (s *Service) GetDiscussion(ctx context.Context, id string, forceRefresh bool) (*models.Discussion, error) {
	return s.load(ctx, id, forceRefresh)
}

// GetMessages returns the newest limit messages in chronological order.
// limit 0 returns everything.
func (s *Service) GetMessages(ctx context.Context, id string, limit int) ([]*models.Message, error) {
	if _, err := s.load(ctx, id, false); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, id, repository.ListMessagesOptions{Limit: limit})
	if err != nil {
		return nil, storeError(err)
	}
	return msgs, nil
}

// ListParticipants returns all participants of a discussion, tombstones
// included.
func (s *Service) ListParticipants(ctx context.Context, id string) ([]*models.Participant, error) {
	if _, err := s.load(ctx, id, false); err != nil {
		return nil, err
	}
	list, err := s.participants.ListOf(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return list, nil
}

// SearchDiscussions filters discussions through the storage port.
func (s *Service) SearchDiscussions(ctx context.Context, opts repository.SearchOptions) ([]*models.Discussion, error) {
	found, err := s.repo.SearchDiscussions(ctx, opts)
	if err != nil {
		return nil, storeError(err)
	}
	return found, nil
}

// VerifyParticipantAccess reports whether a user holds an active seat in
// the discussion.
func (s *Service) VerifyParticipantAccess(ctx context.Context, id, userID string) (bool, error) {
	if _, err := s.load(ctx, id, false); err != nil {
		return false, err
	}
	ok, err := s.participants.HasUser(ctx, id, userID)
	if err != nil {
		return false, storeError(err)
	}
	return ok, nil
}

// Status is the operational snapshot returned by GetStatus.
type Status struct {
	Running           bool      `json:"running"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	ActiveDiscussions int       `json:"active_discussions"`
	CachedDiscussions int       `json:"cached_discussions"`
	ActiveTimers      int       `json:"active_timers"`
}

// GetStatus reports the orchestrator's operational state.
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	active, err := s.repo.SearchDiscussions(ctx, repository.SearchOptions{Status: models.StatusActive})
	if err != nil {
		return nil, storeError(err)
	}
	s.runMu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.runMu.Unlock()

	return &Status{
		Running:           running,
		StartedAt:         startedAt,
		ActiveDiscussions: len(active),
		CachedDiscussions: s.cache.Len(),
		ActiveTimers:      s.timers.Active(),
	}, nil
}

// load fetches a discussion through the cache, mapping repository errors
// to caller-facing kinds.
func (s *Service) load(ctx context.Context, id string, forceRefresh bool) (*models.Discussion, error) {
	discussion, err := s.cache.Get(ctx, id, forceRefresh)
	if err != nil {
		return nil, storeError(err)
	}
	return discussion, nil
}

// persist writes the discussion through to the store and refreshes the
// cache. Nothing beyond what the store confirms is left in the cache.
func (s *Service) persist(ctx context.Context, discussion *models.Discussion) error {
	discussion.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateDiscussion(ctx, discussion); err != nil {
		return storeError(err)
	}
	s.cache.Put(discussion)
	return nil
}

// resolveActive resolves a participant-or-agent id within a discussion and
// requires the seat to be active.
func (s *Service) resolveActive(ctx context.Context, discussionID, participantOrAgentID string) (*models.Participant, error) {
	participant, err := s.participants.Resolve(ctx, discussionID, participantOrAgentID)
	if err != nil {
		return nil, storeError(err)
	}
	if !participant.Active {
		return nil, newError(KindParticipantInactive, "participant %s has left the discussion", participant.ID)
	}
	return participant, nil
}

// setTurn writes the turn bookkeeping for a selection.
func (s *Service) setTurn(discussion *models.Discussion, result *strategy.TurnResult) {
	now := time.Now().UTC()
	expectedEnd := now.Add(time.Duration(result.EstimatedDurationSeconds) * time.Second)
	discussion.State.CurrentTurnParticipantID = result.NextParticipant.ID
	discussion.State.TurnNumber = result.TurnNumber
	discussion.State.TurnStartedAt = &now
	discussion.State.TurnExpectedEndAt = &expectedEnd
}

// clearTurn unsets the turn owner, leaving the turn number intact.
func (s *Service) clearTurn(discussion *models.Discussion) {
	discussion.State.CurrentTurnParticipantID = ""
	discussion.State.TurnStartedAt = nil
	discussion.State.TurnExpectedEndAt = nil
}

// scheduleTurnTimer arms the turn timer for the discussion's current turn.
func (s *Service) scheduleTurnTimer(discussion *models.Discussion) {
	id := discussion.ID
	s.timers.Schedule(id, discussion.Settings.TurnTimeout(), func() {
		s.handleTurnTimeout(id)
	})
}

// handleTurnTimeout advances the turn when a timer fires. The discussion
// may have been paused or completed since the timer was armed, so the
// status is re-checked under the operation lock.
func (s *Service) handleTurnTimeout(id string) {
	ctx := context.Background()
	unlock := s.locks.acquire(id)
	defer unlock()

	discussion, err := s.load(ctx, id, true)
	if err != nil {
		s.logger.Warn("turn timeout for unknown discussion",
			zap.String("discussion_id", id), zap.Error(err))
		return
	}
	if discussion.Status != models.StatusActive {
		return
	}
	if _, err := s.advanceTurnLocked(ctx, discussion); err != nil {
		s.logger.Error("turn timeout advance failed",
			zap.String("discussion_id", id), zap.Error(err))
	}
}

// emit publishes an event to the bus and fans it out to live subscribers.
// Bus failures are logged, never returned; at-least-once delivery is the
// bus layer's job.
func (s *Service) emit(ctx context.Context, eventType, discussionID string, data map[string]interface{}) {
	event := bus.NewEvent(eventType, discussionID, eventSource, data)
	if err := s.bus.Publish(ctx, events.BuildDiscussionEventSubject(discussionID), event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("discussion_id", discussionID),
			zap.Error(err))
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(discussionID, event)
	}
}

func (s *Service) emitTurnChanged(ctx context.Context, discussion *models.Discussion) {
	s.emit(ctx, events.TurnChanged, discussion.ID, map[string]interface{}{
		"participant_id": discussion.State.CurrentTurnParticipantID,
		"turn_number":    discussion.State.TurnNumber,
	})
}

// lastMessage returns the newest message of a discussion, or nil when it
// has none.
func (s *Service) lastMessage(ctx context.Context, discussionID string) (*models.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, discussionID, repository.ListMessagesOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

// defaultSettings builds discussion settings from the service
// configuration.
func (s *Service) defaultSettings() models.Settings {
	return models.Settings{
		MaxParticipants:    s.cfg.MaxParticipants,
		TurnTimeoutSeconds: s.cfg.TurnTimeoutSeconds,
		MaxMessages:        s.cfg.MaxMessages,
		AutoModeration:     s.cfg.AutoModeration,
		AllowReactions:     s.cfg.AllowReactions,
	}
}

func removeFromQueue(queue []string, participantID string) []string {
	out := queue[:0]
	for _, id := range queue {
		if id != participantID {
			out = append(out, id)
		}
	}
	return out
}
