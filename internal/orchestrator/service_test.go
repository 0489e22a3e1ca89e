package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confab/confab/internal/common/config"
	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
	"github.com/confab/confab/internal/events"
	"github.com/confab/confab/internal/events/bus"
)

// recordingBus captures publishes synchronously so tests can assert on
// emitted events without racing goroutine delivery.
type recordingBus struct {
	mu        sync.Mutex
	published []recordedPublish
}

type recordedPublish struct {
	subject string
	event   *bus.Event
}

func (b *recordingBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, recordedPublish{subject: subject, event: event})
	return nil
}

func (b *recordingBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) QueueSubscribe(subject, queue string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Request(ctx context.Context, subject string, event *bus.Event, timeout time.Duration) (*bus.Event, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Close()            {}
func (b *recordingBus) IsConnected() bool { return true }

func (b *recordingBus) eventsOfType(eventType string) []*bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*bus.Event
	for _, p := range b.published {
		if p.event.Type == eventType {
			out = append(out, p.event)
		}
	}
	return out
}

func testDiscussionConfig() config.DiscussionConfig {
	return config.DiscussionConfig{
		MaxParticipants:        10,
		TurnTimeoutSeconds:     10,
		MaxMessages:            100,
		AutoModeration:         true,
		AllowReactions:         true,
		CacheTTLMinutes:        60,
		CacheSweepMinutes:      10,
		TriggerSweepSeconds:    5,
		TriggerCooldownSeconds: 30,
		AgentDedupMinutes:      2,
		HealthIntervalSeconds:  30,
		InactiveAfterMinutes:   10,
		CleanupIntervalMinutes: 10,
	}
}

func newTestService(t *testing.T) (*Service, *recordingBus) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	t.Cleanup(func() { repo.Close() })
	rb := &recordingBus{}
	svc := NewService(testDiscussionConfig(), repo, rb, nil, logger.Default())
	t.Cleanup(svc.Stop)
	return svc, rb
}

// startedDiscussion creates a discussion, seats the given agents in order,
// and starts it.
func startedDiscussion(t *testing.T, svc *Service, req CreateDiscussionRequest, agentIDs ...string) (*models.Discussion, []*models.Participant) {
	t.Helper()
	ctx := context.Background()

	if req.Title == "" {
		req.Title = "test discussion"
	}
	d, err := svc.CreateDiscussion(ctx, req, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}

	seats := make([]*models.Participant, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		p, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
			Type:        models.ParticipantAgent,
			AgentID:     agentID,
			DisplayName: agentID,
		}, "user-1")
		if err != nil {
			t.Fatalf("AddParticipant(%s): %v", agentID, err)
		}
		seats = append(seats, p)
	}

	d, err = svc.StartDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("StartDiscussion: %v", err)
	}
	return d, seats
}

func TestCreateDiscussionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{}, "user-1")
	if KindOf(err) != KindInvalidConfig {
		t.Fatalf("expected INVALID_CONFIG for missing title, got %v", err)
	}

	_, err = svc.CreateDiscussion(ctx, CreateDiscussionRequest{
		Title:    "moderated without moderator",
		Strategy: models.StrategyConfig{Kind: models.StrategyModerated},
	}, "user-1")
	if KindOf(err) != KindInvalidConfig {
		t.Fatalf("expected INVALID_CONFIG for bad strategy, got %v", err)
	}

	d, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{Title: "ok"}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	if d.Status != models.StatusDraft {
		t.Fatalf("new discussion should be draft, got %s", d.Status)
	}
	if d.Strategy.Kind != models.StrategyRoundRobin {
		t.Fatalf("empty strategy should default to round_robin, got %s", d.Strategy.Kind)
	}
}

func TestStartRequiresTwoParticipants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{Title: "lonely"}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	if _, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantAgent, AgentID: "agent-a",
	}, "user-1"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	_, err = svc.StartDiscussion(ctx, d.ID, "user-1")
	if KindOf(err) != KindInvalidState {
		t.Fatalf("expected INVALID_STATE with one participant, got %v", err)
	}
}

func TestTurnHandoff(t *testing.T) {
	svc, rb := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b", "agent-c")

	if d.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", d.Status)
	}
	if d.State.CurrentTurnParticipantID != seats[0].ID {
		t.Fatalf("first turn should go to %s, got %s", seats[0].ID, d.State.CurrentTurnParticipantID)
	}
	if !svc.timers.Has(d.ID) {
		t.Fatal("turn timer should be armed after start")
	}
	if got := rb.eventsOfType(events.StatusChanged); len(got) != 1 {
		t.Fatalf("expected 1 status_changed event, got %d", len(got))
	}
	if got := rb.eventsOfType(events.TurnChanged); len(got) != 1 {
		t.Fatalf("expected 1 turn_changed event, got %d", len(got))
	}

	if _, err := svc.SendMessage(ctx, d.ID, seats[0].ID, "opening statement", "message", nil); err != nil {
		t.Fatalf("SendMessage from turn owner: %v", err)
	}
	if got := rb.eventsOfType(events.MessageSent); len(got) != 1 {
		t.Fatalf("expected 1 message_sent event, got %d", len(got))
	}

	d, err := svc.AdvanceTurn(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if d.State.CurrentTurnParticipantID != seats[1].ID {
		t.Fatalf("turn should move to %s, got %s", seats[1].ID, d.State.CurrentTurnParticipantID)
	}
	if d.State.TurnNumber != 2 {
		t.Fatalf("expected turn number 2, got %d", d.State.TurnNumber)
	}
}

func TestWrongTurnRejection(t *testing.T) {
	svc, rb := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	_, err := svc.SendMessage(ctx, d.ID, seats[1].ID, "hello", "message", nil)
	if KindOf(err) != KindNotYourTurn {
		t.Fatalf("expected NOT_YOUR_TURN, got %v", err)
	}
	if got := rb.eventsOfType(events.MessageSent); len(got) != 0 {
		t.Fatalf("rejected message must emit no events, got %d", len(got))
	}

	reloaded, err := svc.GetDiscussion(ctx, d.ID, true)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if reloaded.State.MessageCount != 0 {
		t.Fatalf("rejected message must not count, got %d", reloaded.State.MessageCount)
	}
}

func TestInitialParticipationBypass(t *testing.T) {
	svc, rb := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	meta := &models.MessageMetadata{IsInitialParticipation: true}
	msg, err := svc.SendMessage(ctx, d.ID, seats[1].ID, "joining in", "message", meta)
	if err != nil {
		t.Fatalf("initial participation must bypass the turn check: %v", err)
	}
	if msg.ParticipantID != seats[1].ID {
		t.Fatalf("message attributed to %s, want %s", msg.ParticipantID, seats[1].ID)
	}
	if got := rb.eventsOfType(events.MessageSent); len(got) != 1 {
		t.Fatalf("expected 1 message_sent event, got %d", len(got))
	}
}

func TestSendMessageResolvesAgentID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	// External workers pass the agent id, not the participant id.
	msg, err := svc.SendMessage(ctx, d.ID, "agent-a", "by agent id", "message", nil)
	if err != nil {
		t.Fatalf("SendMessage by agent id: %v", err)
	}
	if msg.ParticipantID != seats[0].ID {
		t.Fatalf("agent id should resolve to seat %s, got %s", seats[0].ID, msg.ParticipantID)
	}

	_, err = svc.SendMessage(ctx, d.ID, "nobody", "hi", "message", nil)
	if KindOf(err) != KindParticipantNotFound {
		t.Fatalf("expected PARTICIPANT_NOT_FOUND, got %v", err)
	}
}

func TestMessageTypeNormalization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	msg, err := svc.SendMessage(ctx, d.ID, seats[0].ID, "what now?", "interpretive_dance", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Type != models.TypeMessage {
		t.Fatalf("unknown type should normalize to message, got %s", msg.Type)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	paused, err := svc.PauseDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("PauseDiscussion: %v", err)
	}
	if paused.Status != models.StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}
	if svc.timers.Has(d.ID) {
		t.Fatal("pause must cancel the turn timer")
	}

	// Pausing a paused discussion is a no-op.
	again, err := svc.PauseDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("pause of paused discussion must succeed: %v", err)
	}
	if again.Status != models.StatusPaused {
		t.Fatalf("expected paused, got %s", again.Status)
	}

	if _, err := svc.SendMessage(ctx, d.ID, seats[0].ID, "anyone?", "message", nil); KindOf(err) != KindInvalidState {
		t.Fatalf("messages while paused must fail with INVALID_STATE, got %v", err)
	}

	resumed, err := svc.ResumeDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("ResumeDiscussion: %v", err)
	}
	if resumed.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", resumed.Status)
	}
	if !svc.timers.Has(d.ID) {
		t.Fatal("resume must re-arm the turn timer")
	}
}

func TestStopAndTerminalStates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, _ := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	stopped, err := svc.StopDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("StopDiscussion: %v", err)
	}
	if stopped.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", stopped.Status)
	}
	if svc.timers.Has(d.ID) {
		t.Fatal("stop must cancel the turn timer")
	}

	if _, err := svc.StartDiscussion(ctx, d.ID, "user-1"); KindOf(err) != KindInvalidState {
		t.Fatalf("restarting a completed discussion must fail, got %v", err)
	}

	archived, err := svc.ArchiveDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("ArchiveDiscussion: %v", err)
	}
	if archived.Status != models.StatusArchived {
		t.Fatalf("expected archived, got %s", archived.Status)
	}
}

func TestAddParticipantLimits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{
		Title: "small table",
		Settings: &models.Settings{
			MaxParticipants:    2,
			TurnTimeoutSeconds: 10,
			MaxMessages:        100,
		},
	}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}

	for _, agentID := range []string{"agent-a", "agent-b"} {
		if _, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
			Type: models.ParticipantAgent, AgentID: agentID,
		}, "user-1"); err != nil {
			t.Fatalf("AddParticipant(%s): %v", agentID, err)
		}
	}

	_, err = svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantAgent, AgentID: "agent-c",
	}, "user-1")
	if KindOf(err) != KindLimitExceeded {
		t.Fatalf("expected LIMIT_EXCEEDED, got %v", err)
	}

	// Re-adding a seated agent returns the existing seat.
	first, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantAgent, AgentID: "agent-a",
	}, "user-1")
	if err != nil {
		t.Fatalf("re-adding seated agent: %v", err)
	}
	seat, err := svc.ListParticipants(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(seat) != 2 {
		t.Fatalf("expected 2 seats, got %d", len(seat))
	}
	if first.AgentID != "agent-a" {
		t.Fatalf("expected existing agent-a seat, got %s", first.AgentID)
	}
}

func TestRemoveTurnOwnerAdvancesTurn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b", "agent-c")

	if err := svc.RemoveParticipant(ctx, d.ID, seats[0].ID, "user-1"); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}

	reloaded, err := svc.GetDiscussion(ctx, d.ID, true)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	owner := reloaded.State.CurrentTurnParticipantID
	if owner == seats[0].ID || owner == "" {
		t.Fatalf("turn must move off the removed participant, got %q", owner)
	}
}

func TestRemoveParticipantRequiresOwningDiscussion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	other, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{Title: "other"}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	// A valid seat id from another discussion must be rejected without
	// touching the seat.
	if err := svc.RemoveParticipant(ctx, other.ID, seats[0].ID, "user-1"); KindOf(err) != KindParticipantNotFound {
		t.Fatalf("expected PARTICIPANT_NOT_FOUND, got %v", err)
	}

	active, err := svc.repo.GetActiveParticipants(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetActiveParticipants: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("failed removal must leave both seats active, got %d", len(active))
	}
}

func TestEndTurnOwnershipCheck(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	if _, err := svc.EndTurn(ctx, d.ID, seats[1].ID); KindOf(err) != KindNotYourTurn {
		t.Fatalf("expected NOT_YOUR_TURN, got %v", err)
	}

	advanced, err := svc.EndTurn(ctx, d.ID, seats[0].ID)
	if err != nil {
		t.Fatalf("EndTurn by owner: %v", err)
	}
	if advanced.State.CurrentTurnParticipantID != seats[1].ID {
		t.Fatalf("expected turn to pass to %s, got %s", seats[1].ID, advanced.State.CurrentTurnParticipantID)
	}
}

func TestReactions(t *testing.T) {
	svc, rb := newTestService(t)
	ctx := context.Background()

	d, seats := startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	msg, err := svc.SendMessage(ctx, d.ID, seats[0].ID, "hot take", "message", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	updated, err := svc.AddReaction(ctx, d.ID, msg.ID, seats[1].ID, "🔥")
	if err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if len(updated.Reactions) != 1 || updated.Reactions[0].Emoji != "🔥" {
		t.Fatalf("reaction not recorded: %+v", updated.Reactions)
	}
	if got := rb.eventsOfType(events.ReactionAdded); len(got) != 1 {
		t.Fatalf("expected 1 reaction_added event, got %d", len(got))
	}

	if _, err := svc.AddReaction(ctx, d.ID, "no-such-message", seats[1].ID, "👍"); KindOf(err) != KindNotFound {
		t.Fatalf("expected NOT_FOUND for unknown message, got %v", err)
	}
}

func TestVerifyParticipantAccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{Title: "access"}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	if _, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantUser, UserID: "user-1", DisplayName: "Pat",
	}, "user-1"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	ok, err := svc.VerifyParticipantAccess(ctx, d.ID, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected access for seated user, got ok=%v err=%v", ok, err)
	}
	ok, err = svc.VerifyParticipantAccess(ctx, d.ID, "user-2")
	if err != nil || ok {
		t.Fatalf("expected no access for outsider, got ok=%v err=%v", ok, err)
	}
}

func TestModeratedTurnRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.CreateDiscussion(ctx, CreateDiscussionRequest{Title: "panel"}, "user-1")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	mod, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantUser, UserID: "moderator", DisplayName: "Mod",
	}, "user-1")
	if err != nil {
		t.Fatalf("AddParticipant(mod): %v", err)
	}
	guest, err := svc.AddParticipant(ctx, d.ID, ParticipantSpec{
		Type: models.ParticipantAgent, AgentID: "agent-a", DisplayName: "Guest",
	}, "user-1")
	if err != nil {
		t.Fatalf("AddParticipant(guest): %v", err)
	}

	// The moderator seat id only exists after seating, so the strategy is
	// configured on the draft before starting.
	draft, err := svc.GetDiscussion(ctx, d.ID, true)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	draft.Strategy = models.StrategyConfig{
		Kind:                   models.StrategyModerated,
		ModeratorParticipantID: mod.ID,
	}
	if err := svc.repo.UpdateDiscussion(ctx, draft); err != nil {
		t.Fatalf("UpdateDiscussion: %v", err)
	}

	started, err := svc.StartDiscussion(ctx, d.ID, "user-1")
	if err != nil {
		t.Fatalf("StartDiscussion: %v", err)
	}
	if started.State.CurrentTurnParticipantID != mod.ID {
		t.Fatalf("moderator should open, got %s", started.State.CurrentTurnParticipantID)
	}

	if _, err := svc.RequestTurn(ctx, d.ID, guest.ID); err != nil {
		t.Fatalf("RequestTurn: %v", err)
	}

	granted, err := svc.EndTurn(ctx, d.ID, mod.ID)
	if err != nil {
		t.Fatalf("EndTurn(moderator): %v", err)
	}
	if granted.State.CurrentTurnParticipantID != guest.ID {
		t.Fatalf("queue head should be granted, got %s", granted.State.CurrentTurnParticipantID)
	}
	if len(granted.Strategy.Queue) != 0 {
		t.Fatalf("granted participant must leave the queue, got %v", granted.Strategy.Queue)
	}

	back, err := svc.EndTurn(ctx, d.ID, guest.ID)
	if err != nil {
		t.Fatalf("EndTurn(guest): %v", err)
	}
	if back.State.CurrentTurnParticipantID != mod.ID {
		t.Fatalf("turn should return to moderator, got %s", back.State.CurrentTurnParticipantID)
	}
}

func TestGetStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _ = startedDiscussion(t, svc, CreateDiscussionRequest{}, "agent-a", "agent-b")

	status, err := svc.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.ActiveDiscussions != 1 {
		t.Fatalf("expected 1 active discussion, got %d", status.ActiveDiscussions)
	}
	if status.ActiveTimers != 1 {
		t.Fatalf("expected 1 active timer, got %d", status.ActiveTimers)
	}
	if status.CachedDiscussions == 0 {
		t.Fatal("started discussion should be cached")
	}
}
