package strategy

import "github.com/confab/confab/internal/discussion/models"

// RoundRobin rotates deterministically over the active participants in
// stable insertion order. When a participant is removed, the rotation
// closes the gap: the successor is whoever now follows the previous owner's
// position.
type RoundRobin struct{}

// Kind returns the strategy identifier.
func (RoundRobin) Kind() models.StrategyKind { return models.StrategyRoundRobin }

// NextParticipant returns the participant after the current owner in
// insertion order, wrapping around. Without a current owner the rotation
// starts at the order seed.
func (RoundRobin) NextParticipant(discussion *models.Discussion, active []*models.Participant, last *models.Message) *TurnResult {
	if len(active) == 0 {
		return nextTurn(discussion, nil)
	}

	owner := discussion.State.CurrentTurnParticipantID
	if owner == "" {
		seed := int(discussion.Strategy.OrderSeed) % len(active)
		if seed < 0 {
			seed += len(active)
		}
		return nextTurn(discussion, active[seed])
	}

	idx := indexOf(active, owner)
	if idx < 0 {
		// Owner was removed; the gap closes and rotation restarts at the
		// front.
		return nextTurn(discussion, active[0])
	}
	return nextTurn(discussion, active[(idx+1)%len(active)])
}

// CanParticipate allows the current turn owner, or anyone when no turn is
// set.
func (RoundRobin) CanParticipate(discussion *models.Discussion, participant *models.Participant) bool {
	return ownsTurn(discussion, participant)
}

// ValidateConfig accepts any round_robin configuration.
func (RoundRobin) ValidateConfig(cfg models.StrategyConfig) error {
	return nil
}
