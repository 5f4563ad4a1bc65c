// Package realtime maintains the websocket room topology agents subscribe
// to. Rooms are in-memory only; clients rejoin on reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Room name builders. Every conversation and every connected agent has a
// room.
func ConversationRoom(conversationID string) string {
	return fmt.Sprintf("conversation_%s", conversationID)
}

func UserRoom(userID string) string {
	return fmt.Sprintf("user_%s", userID)
}

// Event names emitted to clients.
const (
	EventNewMessage          = "new_message"
	EventConversationUpdated = "conversation_updated"
	EventConversationAssign  = "conversation_assigned"
	EventStatusUpdated       = "conversation_status_updated"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventMessageReadUpdate   = "message_read_update"
)

// envelope is the wire format for server-to-client events.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ConversationLister supplies the bulk room join on connect.
type ConversationLister interface {
	ListIDsByAssignee(ctx context.Context, userID string) ([]string, error)
}

// ReadReceipter persists single-message read receipts sent over the socket.
type ReadReceipter interface {
	MarkRead(ctx context.Context, messageID string) error
}

// Hub tracks connected clients and their room memberships.
type Hub struct {
	logger        *slog.Logger
	conversations ConversationLister
	receipts      ReadReceipter

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

// NewHub creates a Hub.
func NewHub(log *slog.Logger, conversations ConversationLister, receipts ReadReceipter) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger:        log.With(slog.String("service", "realtime")),
		conversations: conversations,
		receipts:      receipts,
		rooms:         map[string]map[*Client]struct{}{},
		clients:       map[*Client]struct{}{},
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister drops the client and all of its room memberships.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The client's readPump can still deliver a join frame after the hub
	// dropped it as slow. Its send channel is closed at that point, so
	// re-adding it would panic the next broadcast.
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Client]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast sends an event to every member of a room.
func (h *Hub) Broadcast(room, event string, data any) {
	h.broadcast(room, event, data, nil)
}

// broadcast delivers to a room, optionally excluding the originating client.
// Clients whose send buffer is full are dropped rather than blocking the
// caller.
func (h *Hub) broadcast(room, event string, data any, except *Client) {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("marshal event failed", slog.String("event", event), slog.Any("error", err))
		return
	}

	// Sends happen under the read lock: unregister closes the send channel
	// under the write lock, so no send can race the close.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow client", slog.String("user_id", c.userID))
			go c.Close()
		}
	}
}

// NotifyNewMessage emits a new_message event to a conversation room.
func (h *Hub) NotifyNewMessage(conversationID string, msg any) {
	h.Broadcast(ConversationRoom(conversationID), EventNewMessage, map[string]any{"message": msg})
}

// NotifyConversationUpdated emits conversation aggregate changes to the
// conversation room.
func (h *Hub) NotifyConversationUpdated(conversationID string, update map[string]any) {
	data := map[string]any{"conversationId": conversationID}
	for k, v := range update {
		data[k] = v
	}
	h.Broadcast(ConversationRoom(conversationID), EventConversationUpdated, data)
}

// NotifyAssigned emits conversation_assigned to both the conversation room
// and the assigned agent's room.
func (h *Hub) NotifyAssigned(conversationID, assignedTo string) {
	data := map[string]any{"conversationId": conversationID, "assignedTo": assignedTo}
	h.Broadcast(ConversationRoom(conversationID), EventConversationAssign, data)
	if assignedTo != "" {
		h.Broadcast(UserRoom(assignedTo), EventConversationAssign, data)
	}
}

// NotifyStatusUpdated emits a status change to the conversation room.
func (h *Hub) NotifyStatusUpdated(conversationID, status string) {
	h.Broadcast(ConversationRoom(conversationID), EventStatusUpdated, map[string]any{
		"conversationId": conversationID,
		"status":         status,
	})
}

// NotifyMessagesRead emits a read receipt for a set of messages to the
// conversation room.
func (h *Hub) NotifyMessagesRead(conversationID, userID string, messageIDs []string) {
	h.Broadcast(ConversationRoom(conversationID), EventMessageReadUpdate, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
		"messageIds":     messageIDs,
	})
}

// RoomSize reports the member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
