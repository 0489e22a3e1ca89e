// Package events defines the event types and bus subjects used by the
// discussion orchestration service.
package events

// Event types emitted by the orchestrator. This is a closed set; consumers
// deduplicate on event id, so re-delivery of any of these is safe.
const (
	StatusChanged     = "status_changed"
	TurnChanged       = "turn_changed"
	ParticipantJoined = "participant_joined"
	ParticipantLeft   = "participant_left"
	MessageSent       = "message_sent"
	ReactionAdded     = "reaction_added"
)

// Bus subjects produced by the orchestrator.
const (
	// DiscussionEvents carries every emitted discussion event.
	DiscussionEvents = "discussion.events"

	// AgentParticipate asks an external AI worker to contribute to a
	// discussion as a given participant.
	AgentParticipate = "agent.discussion.participate"

	// EnhancementRequest is the bulk conversation-enhancement query sent
	// at startup.
	EnhancementRequest = "conversation.enhancement.request"
)

// BuildDiscussionEventSubject returns the per-discussion event subject.
func BuildDiscussionEventSubject(discussionID string) string {
	return DiscussionEvents + "." + discussionID
}

// BuildDiscussionEventWildcard returns a wildcard subscription covering all
// discussion event subjects.
func BuildDiscussionEventWildcard() string {
	return DiscussionEvents + ".*"
}

// BuildParticipateSubject returns the participation request subject for an
// agent.
func BuildParticipateSubject(agentID string) string {
	return AgentParticipate + "." + agentID
}

// BuildParticipateWildcard returns a wildcard subscription covering all
// participation requests.
func BuildParticipateWildcard() string {
	return AgentParticipate + ".*"
}
