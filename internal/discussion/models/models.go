// Package models defines the persisted entities of the discussion domain:
// discussions, participants, and messages.
package models

import "time"

// Status represents the lifecycle state of a discussion.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
	StatusCancelled Status = "cancelled"
)

// validTransitions enumerates the allowed lifecycle edges. Archive and
// cancel are reachable from any state and handled in CanTransitionTo.
var validTransitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusPaused, StatusCompleted},
	StatusPaused: {StatusActive, StatusCompleted},
}

// CanTransitionTo reports whether the lifecycle edge from s to next is
// allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusArchived || next == StatusCancelled {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StrategyKind identifies a turn-taking policy.
type StrategyKind string

const (
	StrategyRoundRobin   StrategyKind = "round_robin"
	StrategyContextAware StrategyKind = "context_aware"
	StrategyModerated    StrategyKind = "moderated"
	StrategyFreeForm     StrategyKind = "free_form"
)

// StrategyConfig is the tagged configuration for a discussion's turn
// strategy. Fields beyond Kind apply only to the matching variants.
type StrategyConfig struct {
	Kind StrategyKind `json:"kind"`

	// OrderSeed rotates the round_robin starting point.
	OrderSeed int64 `json:"order_seed,omitempty"`

	// ModeratorParticipantID owns every turn under the moderated strategy.
	ModeratorParticipantID string `json:"moderator_participant_id,omitempty"`

	// Queue holds participant ids waiting for the moderator to hand out
	// the turn.
	Queue []string `json:"queue,omitempty"`
}

// Settings holds per-discussion limits and toggles.
type Settings struct {
	MaxParticipants    int  `json:"max_participants"`
	TurnTimeoutSeconds int  `json:"turn_timeout_seconds"`
	MaxMessages        int  `json:"max_messages"`
	AutoModeration     bool `json:"auto_moderation"`
	AllowReactions     bool `json:"allow_reactions"`
}

// DefaultSettings returns the documented defaults for discussion settings.
func DefaultSettings() Settings {
	return Settings{
		MaxParticipants:    10,
		TurnTimeoutSeconds: 10,
		MaxMessages:        100,
		AutoModeration:     true,
		AllowReactions:     true,
	}
}

// TurnTimeout returns the per-turn timeout as a time.Duration.
func (s Settings) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTimeoutSeconds) * time.Second
}

// RuntimeState is the mutable runtime portion of a discussion: the current
// turn, counters, and activity tracking.
type RuntimeState struct {
	CurrentTurnParticipantID string     `json:"current_turn_participant_id,omitempty"`
	TurnNumber               int        `json:"turn_number"`
	TurnStartedAt            *time.Time `json:"turn_started_at,omitempty"`
	TurnExpectedEndAt        *time.Time `json:"turn_expected_end_at,omitempty"`
	Phase                    string     `json:"phase,omitempty"`
	MessageCount             int        `json:"message_count"`
	LastActivityAt           time.Time  `json:"last_activity_at"`
}

// Discussion is the root entity: a multi-turn conversation with lifecycle,
// participants, and turn state.
type Discussion struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Topic       string            `json:"topic,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedBy   string            `json:"created_by"`
	Status      Status            `json:"status"`
	Strategy    StrategyConfig    `json:"strategy"`
	Settings    Settings          `json:"settings"`
	State       RuntimeState      `json:"state"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy. The cache hands out clones so callers never
// share hot state.
func (d *Discussion) Clone() *Discussion {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Metadata != nil {
		clone.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	if d.Strategy.Queue != nil {
		clone.Strategy.Queue = append([]string(nil), d.Strategy.Queue...)
	}
	if d.State.TurnStartedAt != nil {
		t := *d.State.TurnStartedAt
		clone.State.TurnStartedAt = &t
	}
	if d.State.TurnExpectedEndAt != nil {
		t := *d.State.TurnExpectedEndAt
		clone.State.TurnExpectedEndAt = &t
	}
	return &clone
}

// ParticipantType distinguishes agent seats from user seats.
type ParticipantType string

const (
	ParticipantAgent ParticipantType = "agent"
	ParticipantUser  ParticipantType = "user"
)

// Participant is a seat in a discussion, owned by either a user or an
// agent. Removed participants are tombstoned (Active=false), never deleted.
type Participant struct {
	ID                string          `json:"id"`
	DiscussionID      string          `json:"discussion_id"`
	Type              ParticipantType `json:"type"`
	AgentID           string          `json:"agent_id,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	Role              string          `json:"role,omitempty"`
	DisplayName       string          `json:"display_name"`
	Active            bool            `json:"active"`
	MessageCount      int             `json:"message_count"`
	LastMessageAt     *time.Time      `json:"last_message_at,omitempty"`
	ContributionScore float64         `json:"contribution_score"`
	EngagementLevel   float64         `json:"engagement_level"`
	JoinedAt          time.Time       `json:"joined_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// MessageType classifies message content. Unknown inputs normalize to
// TypeMessage.
type MessageType string

const (
	TypeMessage       MessageType = "message"
	TypeQuestion      MessageType = "question"
	TypeAnswer        MessageType = "answer"
	TypeClarification MessageType = "clarification"
	TypeObjection     MessageType = "objection"
	TypeAgreement     MessageType = "agreement"
	TypeSummary       MessageType = "summary"
	TypeDecision      MessageType = "decision"
	TypeActionItem    MessageType = "action_item"
	TypeSystem        MessageType = "system"
)

var knownMessageTypes = map[MessageType]bool{
	TypeMessage:       true,
	TypeQuestion:      true,
	TypeAnswer:        true,
	TypeClarification: true,
	TypeObjection:     true,
	TypeAgreement:     true,
	TypeSummary:       true,
	TypeDecision:      true,
	TypeActionItem:    true,
	TypeSystem:        true,
}

// NormalizeMessageType maps arbitrary input to the closed message-type set,
// degrading unknown values to TypeMessage.
func NormalizeMessageType(t string) MessageType {
	mt := MessageType(t)
	if knownMessageTypes[mt] {
		return mt
	}
	return TypeMessage
}

// MessageMetadata is the typed metadata attached to a message, with an
// Extra escape hatch for ad-hoc keys.
type MessageMetadata struct {
	// IsInitialParticipation marks an agent's first-ever contribution,
	// which bypasses the turn check.
	IsInitialParticipation bool              `json:"is_initial_participation,omitempty"`
	ReplyToMessageID       string            `json:"reply_to_message_id,omitempty"`
	Extra                  map[string]string `json:"extra,omitempty"`
}

// Reaction is an emoji reaction attached to a message.
type Reaction struct {
	ParticipantID string    `json:"participant_id"`
	Emoji         string    `json:"emoji"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is an append-only record of one contribution to a discussion.
type Message struct {
	ID            string           `json:"id"`
	DiscussionID  string           `json:"discussion_id"`
	ParticipantID string           `json:"participant_id"`
	Content       string           `json:"content"`
	Type          MessageType      `json:"type"`
	Metadata      *MessageMetadata `json:"metadata,omitempty"`
	Reactions     []Reaction       `json:"reactions,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
