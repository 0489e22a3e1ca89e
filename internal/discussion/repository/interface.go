// Package repository provides storage for discussions, participants, and
// messages. The orchestration core only depends on the Repository
// interface; memory and sqlite implementations are provided.
package repository

import (
	"context"
	"errors"

	"github.com/confab/confab/internal/discussion/models"
)

// Sentinel errors returned by all implementations.
var (
	ErrDiscussionNotFound  = errors.New("discussion not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMessageNotFound     = errors.New("message not found")
)

// SearchOptions filters discussion searches.
type SearchOptions struct {
	Status    models.Status // empty matches all statuses
	CreatedBy string        // empty matches all creators
	Limit     int           // 0 means no limit
}

// ListMessagesOptions bounds message listings.
type ListMessagesOptions struct {
	// Limit caps the number of messages returned. When set, the newest
	// Limit messages are returned, still in chronological order.
	Limit int
}

// Repository defines the storage port for the discussion domain. All
// methods are safe for concurrent use.
type Repository interface {
	// Discussion operations
	CreateDiscussion(ctx context.Context, discussion *models.Discussion) error
	GetDiscussion(ctx context.Context, id string) (*models.Discussion, error)
	UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error
	SearchDiscussions(ctx context.Context, opts SearchOptions) ([]*models.Discussion, error)

	// Participant operations
	CreateParticipant(ctx context.Context, participant *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	GetParticipantByAgentID(ctx context.Context, discussionID, agentID string) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, participant *models.Participant) error
	ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error)
	GetActiveParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error)

	// Message operations
	AppendMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error)
	CountMessages(ctx context.Context, discussionID string) (int, error)

	// Close closes the repository (for database connections).
	Close() error
}
