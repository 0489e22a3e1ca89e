// Package strategy implements the pluggable turn-taking policies:
// round_robin, context_aware, moderated, and free_form.
package strategy

import (
	"errors"
	"fmt"

	"github.com/confab/confab/internal/discussion/models"
)

// Common errors.
var (
	ErrUnknownStrategy  = errors.New("unknown turn strategy")
	ErrMissingModerator = errors.New("moderated strategy requires a moderator participant id")
)

// TurnResult is the outcome of a turn selection. NextParticipant is nil
// when no participant is eligible (the caller leaves the turn unset).
type TurnResult struct {
	NextParticipant          *models.Participant
	TurnNumber               int
	EstimatedDurationSeconds int
}

// Strategy is the polymorphic turn policy. Implementations are stateless;
// all state lives on the discussion and its participants.
type Strategy interface {
	// Kind returns the strategy identifier.
	Kind() models.StrategyKind

	// NextParticipant selects the next turn owner given the discussion,
	// its active participants in stable insertion order, and the last
	// message (nil when the discussion has none).
	NextParticipant(discussion *models.Discussion, active []*models.Participant, last *models.Message) *TurnResult

	// CanParticipate reports whether the participant may post a
	// non-initial message right now.
	CanParticipate(discussion *models.Discussion, participant *models.Participant) bool

	// ValidateConfig rejects configurations the strategy cannot run with.
	ValidateConfig(cfg models.StrategyConfig) error
}

// ForConfig returns the strategy implementation for a configuration,
// validating it first.
func ForConfig(cfg models.StrategyConfig) (Strategy, error) {
	var s Strategy
	switch cfg.Kind {
	case models.StrategyRoundRobin:
		s = RoundRobin{}
	case models.StrategyContextAware:
		s = ContextAware{}
	case models.StrategyModerated:
		s = Moderated{}
	case models.StrategyFreeForm:
		s = FreeForm{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Kind)
	}
	if err := s.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks a strategy configuration without instantiating it for
// use.
func Validate(cfg models.StrategyConfig) error {
	_, err := ForConfig(cfg)
	return err
}

// nextTurn fills the bookkeeping fields of a selection.
func nextTurn(discussion *models.Discussion, next *models.Participant) *TurnResult {
	return &TurnResult{
		NextParticipant:          next,
		TurnNumber:               discussion.State.TurnNumber + 1,
		EstimatedDurationSeconds: discussion.Settings.TurnTimeoutSeconds,
	}
}

// indexOf returns the position of a participant id in the active list, or
// -1 if absent.
func indexOf(active []*models.Participant, participantID string) int {
	for i, p := range active {
		if p.ID == participantID {
			return i
		}
	}
	return -1
}

// ownsTurn is the shared turn check for enforcing strategies: the
// participant may speak when it owns the current turn or no turn is set.
func ownsTurn(discussion *models.Discussion, participant *models.Participant) bool {
	if !participant.Active {
		return false
	}
	owner := discussion.State.CurrentTurnParticipantID
	return owner == "" || owner == participant.ID
}
