package strategy

import "github.com/confab/confab/internal/discussion/models"

// Moderated keeps the turn with the moderator. Other participants request
// turns and wait in the queue on the strategy config; the moderator hands
// control out with endTurn/advanceTurn, and the turn returns to the
// moderator when a granted speaker finishes.
type Moderated struct{}

// Kind returns the strategy identifier.
func (Moderated) Kind() models.StrategyKind { return models.StrategyModerated }

// NextParticipant grants the head of the request queue when the moderator
// currently holds the turn, and otherwise returns the turn to the
// moderator. A missing or inactive moderator yields no selection.
func (Moderated) NextParticipant(discussion *models.Discussion, active []*models.Participant, last *models.Message) *TurnResult {
	moderatorID := discussion.Strategy.ModeratorParticipantID
	modIdx := indexOf(active, moderatorID)
	if modIdx < 0 {
		return nextTurn(discussion, nil)
	}

	owner := discussion.State.CurrentTurnParticipantID
	if owner == moderatorID {
		for _, queued := range discussion.Strategy.Queue {
			if idx := indexOf(active, queued); idx >= 0 {
				return nextTurn(discussion, active[idx])
			}
		}
	}
	return nextTurn(discussion, active[modIdx])
}

// CanParticipate allows only the current turn owner; without a turn set,
// only the moderator may speak.
func (Moderated) CanParticipate(discussion *models.Discussion, participant *models.Participant) bool {
	if !participant.Active {
		return false
	}
	owner := discussion.State.CurrentTurnParticipantID
	if owner == "" {
		return participant.ID == discussion.Strategy.ModeratorParticipantID
	}
	return owner == participant.ID
}

// ValidateConfig rejects a moderated configuration without a moderator.
func (Moderated) ValidateConfig(cfg models.StrategyConfig) error {
	if cfg.ModeratorParticipantID == "" {
		return ErrMissingModerator
	}
	return nil
}
