// Package websocket provides the WebSocket gateway: the client hub, the
// per-discussion subscriber fanout, and the discussion command surface.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/events/bus"
	ws "github.com/confab/confab/pkg/websocket"
)

// Hub manages all WebSocket client connections and the per-discussion
// subscriber sets. It implements the orchestrator's Broadcaster: every
// emitted discussion event is fanned out to the discussion's live
// subscribers, and a slow subscriber never blocks the rest.
type Hub struct {
	// All registered clients.
	clients map[*Client]bool

	// Clients subscribed to specific discussions.
	discussionSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a WebSocket hub.
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:               make(map[*Client]bool),
		discussionSubscribers: make(map[string]map[*Client]bool),
		register:              make(chan *Client),
		unregister:            make(chan *Client),
		dispatcher:            dispatcher,
		logger:                log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's client management loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.discussionSubscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for discussionID := range client.subscriptions {
			if subs, ok := h.discussionSubscribers[discussionID]; ok {
				delete(subs, client)
				if len(subs) == 0 {
					delete(h.discussionSubscribers, discussionID)
				}
			}
		}
	}
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast delivers a discussion event to the discussion's subscribers.
// Clients with full send buffers are skipped; the write pump cleans up
// connections that stay stuck.
func (h *Hub) Broadcast(discussionID string, event *bus.Event) {
	msg, err := ws.NewNotification(ws.ActionDiscussionEvent, event)
	if err != nil {
		h.logger.Error("failed to build event notification", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal event notification", zap.Error(err))
		return
	}

	// Send channels are closed only under the write lock, so the sends must
	// stay under the read lock; they are non-blocking, so holding it is
	// safe.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.discussionSubscribers[discussionID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("client_id", client.ID),
				zap.String("discussion_id", discussionID))
		}
	}
}

// Subscribe adds a client to a discussion's subscriber set.
func (h *Hub) Subscribe(client *Client, discussionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.discussionSubscribers[discussionID]; !ok {
		h.discussionSubscribers[discussionID] = make(map[*Client]bool)
	}
	h.discussionSubscribers[discussionID][client] = true
	client.subscriptions[discussionID] = true

	h.logger.Debug("client subscribed",
		zap.String("client_id", client.ID),
		zap.String("discussion_id", discussionID))
}

// Unsubscribe removes a client from a discussion's subscriber set.
func (h *Hub) Unsubscribe(client *Client, discussionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, discussionID)
	if subs, ok := h.discussionSubscribers[discussionID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.discussionSubscribers, discussionID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of subscribers of a discussion.
func (h *Hub) SubscriberCount(discussionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.discussionSubscribers[discussionID])
}
