package websocket

// Action constants for WebSocket messages.
const (
	// Health
	ActionHealthCheck = "health.check"

	// Discussion actions
	ActionDiscussionCreate  = "discussion.create"
	ActionDiscussionGet     = "discussion.get"
	ActionDiscussionList    = "discussion.list"
	ActionDiscussionStart   = "discussion.start"
	ActionDiscussionPause   = "discussion.pause"
	ActionDiscussionResume  = "discussion.resume"
	ActionDiscussionStop    = "discussion.stop"
	ActionDiscussionArchive = "discussion.archive"
	ActionDiscussionCancel  = "discussion.cancel"

	// Participant actions
	ActionParticipantAdd    = "participant.add"
	ActionParticipantRemove = "participant.remove"
	ActionParticipantList   = "participant.list"

	// Message actions
	ActionMessageSend = "message.send"
	ActionMessageList = "message.list"
	ActionReactionAdd = "reaction.add"

	// Turn actions
	ActionTurnAdvance = "turn.advance"
	ActionTurnRequest = "turn.request"
	ActionTurnEnd     = "turn.end"

	// Orchestrator actions
	ActionOrchestratorStatus = "orchestrator.status"

	// Subscription actions
	ActionDiscussionSubscribe   = "discussion.subscribe"
	ActionDiscussionUnsubscribe = "discussion.unsubscribe"

	// Notification actions (server -> client)
	ActionDiscussionEvent = "discussion.event"
)

// Error codes for protocol-level failures. Orchestrator errors pass their
// own kind through as the code.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
