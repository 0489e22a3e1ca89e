package strategy

import "github.com/confab/confab/internal/discussion/models"

// FreeForm never enforces turns; anyone active may speak at any time. Its
// selection is used only by the participation trigger, which nudges the
// agent that has been silent longest.
type FreeForm struct{}

// Kind returns the strategy identifier.
func (FreeForm) Kind() models.StrategyKind { return models.StrategyFreeForm }

// NextParticipant returns the agent participant that has spoken least
// recently, skipping the previous speaker.
func (FreeForm) NextParticipant(discussion *models.Discussion, active []*models.Participant, last *models.Message) *TurnResult {
	agents := make([]*models.Participant, 0, len(active))
	for _, p := range active {
		if p.Type == models.ParticipantAgent {
			agents = append(agents, p)
		}
	}
	if len(agents) == 0 {
		return nextTurn(discussion, nil)
	}

	previousSpeaker := ""
	if last != nil {
		previousSpeaker = last.ParticipantID
	}
	if quiet := leastRecentSpeaker(agents, previousSpeaker); quiet != nil {
		return nextTurn(discussion, quiet)
	}
	return nextTurn(discussion, agents[0])
}

// CanParticipate allows any active participant.
func (FreeForm) CanParticipate(discussion *models.Discussion, participant *models.Participant) bool {
	return participant.Active
}

// ValidateConfig accepts any free_form configuration.
func (FreeForm) ValidateConfig(cfg models.StrategyConfig) error {
	return nil
}
