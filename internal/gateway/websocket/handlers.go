package websocket

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
	"github.com/confab/confab/internal/orchestrator"
	ws "github.com/confab/confab/pkg/websocket"
)

// DiscussionHandlers exposes the orchestrator command surface over the
// WebSocket protocol.
type DiscussionHandlers struct {
	service *orchestrator.Service
	logger  *logger.Logger
}

// NewDiscussionHandlers creates the discussion command handlers.
func NewDiscussionHandlers(service *orchestrator.Service, log *logger.Logger) *DiscussionHandlers {
	return &DiscussionHandlers{
		service: service,
		logger:  log.WithFields(zap.String("component", "ws_handlers")),
	}
}

// RegisterAll registers every discussion action on the dispatcher.
func (h *DiscussionHandlers) RegisterAll(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, h.handleHealthCheck)
	d.RegisterFunc(ws.ActionDiscussionCreate, h.handleCreate)
	d.RegisterFunc(ws.ActionDiscussionGet, h.handleGet)
	d.RegisterFunc(ws.ActionDiscussionList, h.handleList)
	d.RegisterFunc(ws.ActionDiscussionStart, h.lifecycle(h.service.StartDiscussion))
	d.RegisterFunc(ws.ActionDiscussionPause, h.lifecycle(h.service.PauseDiscussion))
	d.RegisterFunc(ws.ActionDiscussionResume, h.lifecycle(h.service.ResumeDiscussion))
	d.RegisterFunc(ws.ActionDiscussionStop, h.lifecycle(h.service.StopDiscussion))
	d.RegisterFunc(ws.ActionDiscussionArchive, h.lifecycle(h.service.ArchiveDiscussion))
	d.RegisterFunc(ws.ActionDiscussionCancel, h.lifecycle(h.service.CancelDiscussion))
	d.RegisterFunc(ws.ActionParticipantAdd, h.handleParticipantAdd)
	d.RegisterFunc(ws.ActionParticipantRemove, h.handleParticipantRemove)
	d.RegisterFunc(ws.ActionParticipantList, h.handleParticipantList)
	d.RegisterFunc(ws.ActionMessageSend, h.handleMessageSend)
	d.RegisterFunc(ws.ActionMessageList, h.handleMessageList)
	d.RegisterFunc(ws.ActionReactionAdd, h.handleReactionAdd)
	d.RegisterFunc(ws.ActionTurnAdvance, h.handleTurnAdvance)
	d.RegisterFunc(ws.ActionTurnRequest, h.handleTurnRequest)
	d.RegisterFunc(ws.ActionTurnEnd, h.handleTurnEnd)
	d.RegisterFunc(ws.ActionOrchestratorStatus, h.handleStatus)
}

// fail maps an orchestrator error to a protocol error message, passing the
// error kind through as the code.
func (h *DiscussionHandlers) fail(msg *ws.Message, err error) (*ws.Message, error) {
	var oe *orchestrator.Error
	if errors.As(err, &oe) {
		return ws.NewError(msg.ID, msg.Action, string(oe.Kind), oe.Message, nil)
	}
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
}

func (h *DiscussionHandlers) handleHealthCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"status":  "ok",
		"service": "confab",
	})
}

// CreateDiscussionPayload is the payload for discussion.create.
type CreateDiscussionPayload struct {
	Title       string                `json:"title"`
	Topic       string                `json:"topic,omitempty"`
	Description string                `json:"description,omitempty"`
	CreatedBy   string                `json:"created_by"`
	Strategy    models.StrategyConfig `json:"strategy,omitempty"`
	Settings    *models.Settings      `json:"settings,omitempty"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

func (h *DiscussionHandlers) handleCreate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req CreateDiscussionPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}

	discussion, err := h.service.CreateDiscussion(ctx, orchestrator.CreateDiscussionRequest{
		Title:       req.Title,
		Topic:       req.Topic,
		Description: req.Description,
		Strategy:    req.Strategy,
		Settings:    req.Settings,
		Metadata:    req.Metadata,
	}, req.CreatedBy)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"discussion": discussion,
	})
}

// DiscussionPayload identifies a discussion, with the acting user.
type DiscussionPayload struct {
	DiscussionID string `json:"discussion_id"`
	By           string `json:"by,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// lifecycle adapts a lifecycle command to a message handler.
func (h *DiscussionHandlers) lifecycle(op func(context.Context, string, string) (*models.Discussion, error)) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req DiscussionPayload
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
		}
		if req.DiscussionID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "discussion_id is required", nil)
		}

		discussion, err := op(ctx, req.DiscussionID, req.By)
		if err != nil {
			return h.fail(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"discussion": discussion,
		})
	}
}

func (h *DiscussionHandlers) handleGet(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req DiscussionPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	discussion, err := h.service.GetDiscussion(ctx, req.DiscussionID, req.ForceRefresh)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"discussion": discussion,
	})
}

// ListDiscussionsPayload filters discussion.list.
type ListDiscussionsPayload struct {
	Status    string `json:"status,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (h *DiscussionHandlers) handleList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ListDiscussionsPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	found, err := h.service.SearchDiscussions(ctx, repository.SearchOptions{
		Status:    models.Status(req.Status),
		CreatedBy: req.CreatedBy,
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":     true,
		"discussions": found,
	})
}

// ParticipantPayload is the payload for participant actions.
type ParticipantPayload struct {
	DiscussionID  string `json:"discussion_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Type          string `json:"type,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Role          string `json:"role,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	By            string `json:"by,omitempty"`
}

func (h *DiscussionHandlers) handleParticipantAdd(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ParticipantPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	participant, err := h.service.AddParticipant(ctx, req.DiscussionID, orchestrator.ParticipantSpec{
		Type:        models.ParticipantType(req.Type),
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		Role:        req.Role,
		DisplayName: req.DisplayName,
	}, req.By)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":     true,
		"participant": participant,
	})
}

func (h *DiscussionHandlers) handleParticipantRemove(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ParticipantPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	if err := h.service.RemoveParticipant(ctx, req.DiscussionID, req.ParticipantID, req.By); err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *DiscussionHandlers) handleParticipantList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ParticipantPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	list, err := h.service.ListParticipants(ctx, req.DiscussionID)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":      true,
		"participants": list,
	})
}

// SendMessagePayload is the payload for message.send. ParticipantID also
// accepts an agent id.
type SendMessagePayload struct {
	DiscussionID  string                  `json:"discussion_id"`
	ParticipantID string                  `json:"participant_id"`
	Content       string                  `json:"content"`
	Type          string                  `json:"type,omitempty"`
	Metadata      *models.MessageMetadata `json:"metadata,omitempty"`
}

func (h *DiscussionHandlers) handleMessageSend(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req SendMessagePayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	message, err := h.service.SendMessage(ctx, req.DiscussionID, req.ParticipantID, req.Content, req.Type, req.Metadata)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// ListMessagesPayload is the payload for message.list.
type ListMessagesPayload struct {
	DiscussionID string `json:"discussion_id"`
	Limit        int    `json:"limit,omitempty"`
}

func (h *DiscussionHandlers) handleMessageList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ListMessagesPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	msgs, err := h.service.GetMessages(ctx, req.DiscussionID, req.Limit)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":  true,
		"messages": msgs,
	})
}

// ReactionPayload is the payload for reaction.add.
type ReactionPayload struct {
	DiscussionID  string `json:"discussion_id"`
	MessageID     string `json:"message_id"`
	ParticipantID string `json:"participant_id"`
	Emoji         string `json:"emoji"`
}

func (h *DiscussionHandlers) handleReactionAdd(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ReactionPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	message, err := h.service.AddReaction(ctx, req.DiscussionID, req.MessageID, req.ParticipantID, req.Emoji)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// TurnPayload is the payload for turn actions.
type TurnPayload struct {
	DiscussionID  string `json:"discussion_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	By            string `json:"by,omitempty"`
}

func (h *DiscussionHandlers) handleTurnAdvance(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req TurnPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	discussion, err := h.service.AdvanceTurn(ctx, req.DiscussionID, req.By)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"discussion": discussion,
	})
}

func (h *DiscussionHandlers) handleTurnRequest(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req TurnPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	discussion, err := h.service.RequestTurn(ctx, req.DiscussionID, req.ParticipantID)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"discussion": discussion,
	})
}

func (h *DiscussionHandlers) handleTurnEnd(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req TurnPayload
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	discussion, err := h.service.EndTurn(ctx, req.DiscussionID, req.ParticipantID)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"discussion": discussion,
	})
}

func (h *DiscussionHandlers) handleStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	status, err := h.service.GetStatus(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success": true,
		"status":  status,
	})
}
