package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/omnidesk/omnidesk/internal/auth"
	"github.com/omnidesk/omnidesk/internal/conversation"
	"github.com/omnidesk/omnidesk/internal/inbox"
	"github.com/omnidesk/omnidesk/internal/message"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// ConversationHandler exposes the unified inbox: listing, reading, replying,
// assignment, and status transitions.
type ConversationHandler struct {
	logger        *slog.Logger
	conversations *conversation.Store
	messages      *message.Store
	inbox         *inbox.Service
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(log *slog.Logger, conversations *conversation.Store, messages *message.Store, svc *inbox.Service) *ConversationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationHandler{
		logger:        log.With(slog.String("handler", "conversations")),
		conversations: conversations,
		messages:      messages,
		inbox:         svc,
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	e.GET("/conversations", h.List)
	e.GET("/conversations/stats", h.Stats)
	e.GET("/conversations/:id", h.Get)
	e.GET("/conversations/:id/messages", h.Messages)
	e.POST("/conversations/:id/messages", h.SendMessage)
	e.PUT("/conversations/:id/assign", h.Assign)
	e.PUT("/conversations/:id/status", h.UpdateStatus)
	e.PUT("/conversations/:id/read", h.MarkRead)
}

func intQuery(c echo.Context, name string) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return v
}

// List returns a filtered page of conversations ordered by recency.
func (h *ConversationHandler) List(c echo.Context) error {
	filter := conversation.ListFilter{
		Status:     c.QueryParam("status"),
		AssignedTo: c.QueryParam("assignedTo"),
		Search:     c.QueryParam("search"),
		Limit:      intQuery(c, "limit"),
		Offset:     intQuery(c, "offset"),
	}
	if raw := c.QueryParam("platform"); raw != "" {
		filter.Platform = string(platform.NormalizePlatform(raw))
	}
	if filter.Status != "" && !conversation.ValidStatus(filter.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+filter.Status)
	}

	page, err := h.conversations.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	return c.JSON(http.StatusOK, page)
}

// Stats returns inbox totals grouped by platform and status.
func (h *ConversationHandler) Stats(c echo.Context) error {
	stats, err := h.conversations.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("conversation stats failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load stats")
	}
	return c.JSON(http.StatusOK, stats)
}

type messagePage struct {
	Items []message.Message `json:"items"`
	Total int               `json:"total"`
}

type conversationDetail struct {
	conversation.Conversation
	Messages messagePage `json:"messages"`
}

// Get returns one conversation with its first page of messages.
func (h *ConversationHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := h.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		return h.conversationError(err)
	}
	items, total, err := h.messages.ListByConversation(ctx, conv.ID, intQuery(c, "limit"), intQuery(c, "offset"))
	if err != nil {
		h.logger.Error("list messages failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	return c.JSON(http.StatusOK, conversationDetail{Conversation: conv, Messages: messagePage{Items: items, Total: total}})
}

// Messages returns a page of the conversation's messages, oldest first.
func (h *ConversationHandler) Messages(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := h.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		return h.conversationError(err)
	}
	items, total, err := h.messages.ListByConversation(ctx, conv.ID, intQuery(c, "limit"), intQuery(c, "offset"))
	if err != nil {
		h.logger.Error("list messages failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	return c.JSON(http.StatusOK, messagePage{Items: items, Total: total})
}

type sendMessageRequest struct {
	Content      string  `json:"content" validate:"required"`
	MessageType  string  `json:"messageType"`
	MediaURL     string  `json:"mediaUrl"`
	Caption      string  `json:"caption"`
	Subject      string  `json:"subject"`
	HTML         bool    `json:"html"`
	TemplateName string  `json:"templateName"`
	LanguageCode string  `json:"languageCode"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// SendMessage persists an agent reply and delivers it through the
// conversation's platform.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	agentID, err := auth.UserIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.inbox.SendToCustomer(c.Request().Context(), inbox.SendInput{
		ConversationID: c.Param("id"),
		AgentID:        agentID,
		Content:        req.Content,
		MessageType:    platform.MessageType(req.MessageType),
		MediaURL:       req.MediaURL,
		Caption:        req.Caption,
		Subject:        req.Subject,
		HTML:           req.HTML,
		TemplateName:   req.TemplateName,
		LanguageCode:   req.LanguageCode,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
	})
	if err != nil {
		return h.conversationError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

type assignRequest struct {
	UserID string `json:"userId"`
}

// Assign sets or clears the conversation's agent. An empty userId unassigns.
func (h *ConversationHandler) Assign(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conv, err := h.inbox.Assign(c.Request().Context(), c.Param("id"), req.UserID)
	if err != nil {
		return h.conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatus transitions the conversation to a new workflow status.
func (h *ConversationHandler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !conversation.ValidStatus(req.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+req.Status)
	}
	conv, err := h.inbox.UpdateStatus(c.Request().Context(), c.Param("id"), conversation.Status(req.Status))
	if err != nil {
		return h.conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// MarkRead zeroes the unread counter and flags the customer messages read.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	conv, err := h.inbox.MarkRead(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return h.conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) conversationError(err error) error {
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(http.StatusRequestTimeout, "request canceled")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
