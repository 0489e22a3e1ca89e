package strategy

import (
	"regexp"
	"strings"

	"github.com/confab/confab/internal/discussion/models"
)

// mentionPattern extracts @name mentions from message content.
var mentionPattern = regexp.MustCompile(`@([\w-]+)`)

// ContextAware selects the least-recently-spoken eligible participant. If
// the previous message ends with a question directed at a participant by
// mention, the mentioned participant wins. Falls back to round robin when
// nothing in the context decides.
type ContextAware struct{}

// Kind returns the strategy identifier.
func (ContextAware) Kind() models.StrategyKind { return models.StrategyContextAware }

// NextParticipant picks the addressee of a trailing question if there is
// one, otherwise the active participant who has been silent longest.
func (ContextAware) NextParticipant(discussion *models.Discussion, active []*models.Participant, last *models.Message) *TurnResult {
	if len(active) == 0 {
		return nextTurn(discussion, nil)
	}

	if mentioned := questionAddressee(last, active); mentioned != nil {
		return nextTurn(discussion, mentioned)
	}

	if quiet := leastRecentSpeaker(active, discussion.State.CurrentTurnParticipantID); quiet != nil {
		return nextTurn(discussion, quiet)
	}

	return RoundRobin{}.NextParticipant(discussion, active, last)
}

// CanParticipate allows the current turn owner, or anyone when no turn is
// set.
func (ContextAware) CanParticipate(discussion *models.Discussion, participant *models.Participant) bool {
	return ownsTurn(discussion, participant)
}

// ValidateConfig accepts any context_aware configuration.
func (ContextAware) ValidateConfig(cfg models.StrategyConfig) error {
	return nil
}

// questionAddressee returns the active participant mentioned in a trailing
// question, or nil.
func questionAddressee(last *models.Message, active []*models.Participant) *models.Participant {
	if last == nil || !strings.HasSuffix(strings.TrimSpace(last.Content), "?") {
		return nil
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(last.Content, -1) {
		name := strings.ToLower(match[1])
		for _, p := range active {
			if p.ID == last.ParticipantID {
				continue // a speaker cannot hand the turn back to itself
			}
			if strings.ToLower(p.DisplayName) == name {
				return p
			}
		}
	}
	return nil
}

// leastRecentSpeaker returns the active participant with the oldest
// last-message time, preferring participants who have never spoken.
// The current turn owner is excluded so the turn moves on.
func leastRecentSpeaker(active []*models.Participant, currentOwner string) *models.Participant {
	var quiet *models.Participant
	for _, p := range active {
		if p.ID == currentOwner {
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
