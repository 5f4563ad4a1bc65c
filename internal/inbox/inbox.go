// Package inbox orchestrates the inbound and outbound message flows:
// resolve, persist, update aggregates, notify.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omnidesk/omnidesk/internal/conversation"
	"github.com/omnidesk/omnidesk/internal/message"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Resolver finds or creates the conversation for an inbound event.
type Resolver interface {
	Resolve(ctx context.Context, event platform.InboundEvent) (conversation.Conversation, error)
}

// ConversationStore is the conversation surface the inbox needs.
type ConversationStore interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	ApplyInbound(ctx context.Context, id string, at time.Time) (conversation.Conversation, error)
	ApplyOutbound(ctx context.Context, id string, at time.Time) (conversation.Conversation, error)
	Assign(ctx context.Context, id, userID string) (conversation.Conversation, error)
	UpdateStatus(ctx context.Context, id string, status conversation.Status) (conversation.Conversation, error)
	MarkRead(ctx context.Context, id string) (conversation.Conversation, error)
}

// MessageStore is the message surface the inbox needs.
type MessageStore interface {
	Create(ctx context.Context, input message.CreateInput) (message.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) ([]string, error)
	AttachDelivery(ctx context.Context, id, platformMessageID string, raw map[string]any) error
}

// Sender delivers outbound messages through the platform adapters.
type Sender interface {
	Send(ctx context.Context, p platform.Platform, req platform.SendRequest) (platform.SendResult, error)
}

// Notifier pushes realtime events to connected agents.
type Notifier interface {
	NotifyNewMessage(conversationID string, msg any)
	NotifyConversationUpdated(conversationID string, update map[string]any)
	NotifyAssigned(conversationID, assignedTo string)
	NotifyStatusUpdated(conversationID, status string)
	NotifyMessagesRead(conversationID, userID string, messageIDs []string)
}

// Service ties the resolver, stores, dispatcher, and notifier together.
type Service struct {
	logger        *slog.Logger
	resolver      Resolver
	conversations ConversationStore
	messages      MessageStore
	sender        Sender
	notifier      Notifier
}

// NewService creates the inbox service.
func NewService(log *slog.Logger, resolver Resolver, conversations ConversationStore, messages MessageStore, sender Sender, notifier Notifier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:        log.With(slog.String("service", "inbox")),
		resolver:      resolver,
		conversations: conversations,
		messages:      messages,
		sender:        sender,
		notifier:      notifier,
	}
}

// HandleInbound processes one normalized customer message: find or create
// the conversation, append the message, fold the aggregates, and notify the
// conversation room.
func (s *Service) HandleInbound(ctx context.Context, event platform.InboundEvent) error {
	conv, err := s.resolver.Resolve(ctx, event)
	if err != nil {
		return fmt.Errorf("resolve inbound: %w", err)
	}

	meta := map[string]any{}
	for k, v := range event.Metadata {
		meta[k] = v
	}
	meta["platformMessageId"] = event.PlatformMessageID
	if !event.Timestamp.IsZero() {
		meta["platformTimestamp"] = event.Timestamp.Format(time.RFC3339)
	}

	msg, err := s.messages.Create(ctx, message.CreateInput{
		ConversationID:    conv.ID,
		SenderType:        platform.SenderCustomer,
		Content:           event.Content,
		MessageType:       event.MessageType,
		PlatformMessageID: event.PlatformMessageID,
		Metadata:          meta,
	})
	if err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updated, err := s.conversations.ApplyInbound(ctx, conv.ID, at)
	if err != nil {
		// The message is already persisted; the reconcile job repairs the
		// stale counter.
		s.logger.Error("apply inbound aggregates failed",
			slog.String("conversation_id", conv.ID), slog.Any("error", err))
		updated = conv
	}

	s.notifier.NotifyNewMessage(conv.ID, msg)
	s.notifier.NotifyConversationUpdated(conv.ID, map[string]any{
		"lastMessageAt":   updated.LastMessageAt,
		"lastMessageFrom": updated.LastMessageFrom,
		"unreadCount":     updated.UnreadCount,
		"status":          updated.Status,
	})

	s.logger.Info("inbound message processed",
		slog.String("platform", event.Platform.String()),
		slog.String("conversation_id", conv.ID),
		slog.String("message_id", msg.ID),
	)
	return nil
}

// SendInput describes an agent reply.
type SendInput struct {
	ConversationID string
	AgentID        string
	Content        string
	MessageType    platform.MessageType
	MediaURL       string
	Caption        string
	Subject        string
	HTML           bool
	TemplateName   string
	LanguageCode   string
	Latitude       float64
	Longitude      float64
}

// SendToCustomer persists the agent message, attempts platform delivery, and
// attaches the delivery acknowledgment. The message row exists even when the
// platform send fails; delivery failure is recorded and logged, not retried.
func (s *Service) SendToCustomer(ctx context.Context, input SendInput) (message.Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return message.Message{}, fmt.Errorf("message content is required")
	}
	conv, err := s.conversations.Get(ctx, input.ConversationID)
	if err != nil {
		return message.Message{}, err
	}

	msg, err := s.messages.Create(ctx, message.CreateInput{
		ConversationID: conv.ID,
		SenderID:       input.AgentID,
		SenderType:     platform.SenderAgent,
		Content:        input.Content,
		MessageType:    input.MessageType,
		IsRead:         true,
		Metadata:       map[string]any{},
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("persist outbound message: %w", err)
	}

	if updated, err := s.conversations.ApplyOutbound(ctx, conv.ID, time.Now().UTC()); err != nil {
		s.logger.Error("apply outbound aggregates failed",
			slog.String("conversation_id", conv.ID), slog.Any("error", err))
	} else {
		conv = updated
	}

	result, sendErr := s.sender.Send(ctx, conv.Platform, platform.SendRequest{
		To:           conv.PlatformID,
		Message:      input.Content,
		Type:         input.MessageType,
		MediaURL:     input.MediaURL,
		Caption:      input.Caption,
		Subject:      input.Subject,
		HTML:         input.HTML,
		TemplateName: input.TemplateName,
		LanguageCode: input.LanguageCode,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
	})
	if sendErr != nil {
		s.logger.Error("platform delivery failed",
			slog.String("conversation_id", conv.ID),
			slog.String("platform", conv.Platform.String()),
			slog.Any("error", sendErr),
		)
		if err := s.messages.AttachDelivery(ctx, msg.ID, "", map[string]any{"error": sendErr.Error()}); err != nil {
			s.logger.Warn("record delivery failure failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		}
	} else {
		if err := s.messages.AttachDelivery(ctx, msg.ID, result.PlatformMessageID, result.Raw); err != nil {
			s.logger.Warn("attach delivery metadata failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		} else {
			msg.PlatformMessageID = result.PlatformMessageID
		}
	}

	s.notifier.NotifyNewMessage(conv.ID, msg)
	s.notifier.NotifyConversationUpdated(conv.ID, map[string]any{
		"lastMessageAt":   conv.LastMessageAt,
		"lastMessageFrom": conv.LastMessageFrom,
		"status":          conv.Status,
	})
	return msg, nil
}

// Assign sets the conversation's agent and notifies both rooms.
func (s *Service) Assign(ctx context.Context, conversationID, userID string) (conversation.Conversation, error) {
	conv, err := s.conversations.Assign(ctx, conversationID, userID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	s.notifier.NotifyAssigned(conv.ID, conv.AssignedTo)
	return conv, nil
}

// UpdateStatus sets the conversation status and notifies the room.
func (s *Service) UpdateStatus(ctx context.Context, conversationID string, status conversation.Status) (conversation.Conversation, error) {
	conv, err := s.conversations.UpdateStatus(ctx, conversationID, status)
	if err != nil {
		return conversation.Conversation{}, err
	}
	s.notifier.NotifyStatusUpdated(conv.ID, string(conv.Status))
	return conv, nil
}

// MarkRead zeroes the unread counter, bulk-flags the unread messages, and
// notifies the room.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (conversation.Conversation, error) {
	conv, err := s.conversations.MarkRead(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	ids, err := s.messages.MarkConversationRead(ctx, conversationID)
	if err != nil {
		s.logger.Error("bulk mark read failed",
			slog.String("conversation_id", conversationID), slog.Any("error", err))
	}
	s.notifier.NotifyMessagesRead(conv.ID, userID, ids)
	return conv, nil
}
