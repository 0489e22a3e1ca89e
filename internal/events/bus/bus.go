// Package bus provides event bus abstractions for Confab.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus. Every event carries a unique
// ID so downstream consumers can deduplicate under at-least-once delivery.
type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	DiscussionID string                 `json:"discussion_id,omitempty"`
	Source       string                 `json:"source"` // Service that produced the event
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, discussionID, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		DiscussionID: discussionID,
		Source:       source,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus interface for event bus operations.
type EventBus interface {
	// Publish sends an event to a subject. Publish is fire-and-forget from
	// the caller's point of view.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern. NATS-style
	// wildcards are supported: * matches one token, > matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription; each event goes to one
	// member of the queue group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request sends a request and waits for a response (with timeout).
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close closes the connection.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}
