package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confab/confab/internal/discussion/models"
)

// MemoryRepository provides in-memory discussion storage. It backs the
// default configuration and the test suites.
type MemoryRepository struct {
	discussions map[string]*models.Discussion
	// participantOrder preserves insertion order per discussion; round
	// robin rotation depends on it.
	participantOrder map[string][]string
	participants     map[string]*models.Participant
	messages         map[string][]*models.Message
	messagesByID     map[string]*models.Message
	mu               sync.RWMutex
}

// Ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory discussion repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		discussions:      make(map[string]*models.Discussion),
		participantOrder: make(map[string][]string),
		participants:     make(map[string]*models.Participant),
		messages:         make(map[string][]*models.Message),
		messagesByID:     make(map[string]*models.Message),
	}
}

// Close is a no-op for the in-memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// Discussion operations

// CreateDiscussion stores a new discussion, assigning an id and timestamps.
func (r *MemoryRepository) CreateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if discussion.ID == "" {
		discussion.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now

	r.discussions[discussion.ID] = discussion.Clone()
	return nil
}

// GetDiscussion retrieves a discussion by id.
func (r *MemoryRepository) GetDiscussion(ctx context.Context, id string) (*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	discussion, ok := r.discussions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
	}
	return discussion.Clone(), nil
}

// UpdateDiscussion replaces an existing discussion.
func (r *MemoryRepository) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discussions[discussion.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrDiscussionNotFound, discussion.ID)
	}
	discussion.UpdatedAt = time.Now().UTC()
	r.discussions[discussion.ID] = discussion.Clone()
	return nil
}

// SearchDiscussions returns discussions matching the options, newest first.
func (r *MemoryRepository) SearchDiscussions(ctx context.Context, opts SearchOptions) ([]*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Discussion, 0)
	for _, d := range r.discussions {
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		if opts.CreatedBy != "" && d.CreatedBy != opts.CreatedBy {
			continue
		}
		result = append(result, d.Clone())
	}
	sortDiscussionsByCreatedAtDesc(result)
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Participant operations

// CreateParticipant stores a new participant seat.
func (r *MemoryRepository) CreateParticipant(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	participant.JoinedAt = now
	participant.UpdatedAt = now

	copied := *participant
	r.participants[participant.ID] = &copied
	r.participantOrder[participant.DiscussionID] = append(
		r.participantOrder[participant.DiscussionID], participant.ID)
	return nil
}

// GetParticipant retrieves a participant by id.
func (r *MemoryRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, ok := r.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	copied := *participant
	return &copied, nil
}

// GetParticipantByAgentID retrieves the participant seat an agent holds in
// a discussion.
func (r *MemoryRepository) GetParticipantByAgentID(ctx context.Context, discussionID, agentID string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.participantOrder[discussionID] {
		p := r.participants[id]
		if p != nil && p.Type == models.ParticipantAgent && p.AgentID == agentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: agent %s in discussion %s", ErrParticipantNotFound, agentID, discussionID)
}

// UpdateParticipant replaces an existing participant.
func (r *MemoryRepository) UpdateParticipant(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[participant.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participant.ID)
	}
	participant.UpdatedAt = time.Now().UTC()
	copied := *participant
	r.participants[participant.ID] = &copied
	return nil
}

// ListParticipants returns all participants of a discussion in insertion
// order.
func (r *MemoryRepository) ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Participant, 0, len(r.participantOrder[discussionID]))
	for _, id := range r.participantOrder[discussionID] {
		if p := r.participants[id]; p != nil {
			copied := *p
			result = append(result, &copied)
		}
	}
	return result, nil
}

// GetActiveParticipants returns the active participants of a discussion in
// insertion order.
func (r *MemoryRepository) GetActiveParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Participant, 0)
	for _, id := range r.participantOrder[discussionID] {
		if p := r.participants[id]; p != nil && p.Active {
			copied := *p
			result = append(result, &copied)
		}
	}
	return result, nil
}

// Message operations

// AppendMessage stores a new message. Messages are append-only.
func (r *MemoryRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	copied := *message
	r.messages[message.DiscussionID] = append(r.messages[message.DiscussionID], &copied)
	r.messagesByID[message.ID] = &copied
	return nil
}

// GetMessage retrieves a message by id.
func (r *MemoryRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messagesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	copied := *message
	return &copied, nil
}

// UpdateMessage replaces an existing message. Only reaction and metadata
// updates go through here; content is append-only.
func (r *MemoryRepository) UpdateMessage(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.messagesByID[message.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, message.ID)
	}
	*existing = *message
	return nil
}

// ListMessages returns messages in chronological order. With a limit, the
// newest messages are returned, still oldest-first.
func (r *MemoryRepository) ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[discussionID]
	start := 0
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		start = len(msgs) - opts.Limit
	}

	result := make([]*models.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		copied := *m
		result = append(result, &copied)
	}
	return result, nil
}

// CountMessages returns the number of messages in a discussion.
func (r *MemoryRepository) CountMessages(ctx context.Context, discussionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages[discussionID]), nil
}

// sortDiscussionsByCreatedAtDesc sorts newest-first with id as tiebreak so
// results are deterministic.
func sortDiscussionsByCreatedAtDesc(discussions []*models.Discussion) {
	sort.Slice(discussions, func(i, j int) bool {
		if !discussions[i].CreatedAt.Equal(discussions[j].CreatedAt) {
			return discussions[i].CreatedAt.After(discussions[j].CreatedAt)
		}
		return discussions[i].ID < discussions[j].ID
	})
}
