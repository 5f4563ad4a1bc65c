package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 32
)

// clientCommand is the wire format for client-to-server frames.
type clientCommand struct {
	Event string `json:"event"`
	Data  struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		UserName       string `json:"userName"`
	} `json:"data"`
}

// Client is one connected agent session.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	rooms  map[string]struct{}
	once   sync.Once
}

// NewClient wraps an upgraded websocket connection for the given agent. The
// client joins its user room immediately; conversation rooms are joined on
// request.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		rooms:  map[string]struct{}{},
	}
	hub.register(c)
	hub.join(c, UserRoom(userID))
	return c
}

// Close tears down the connection and drops all room memberships.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}

// Run pumps the connection until it closes. Blocks the caller.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly",
					slog.String("user_id", c.userID), slog.Any("error", err))
			}
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.hub.logger.Debug("ignore malformed client frame", slog.String("user_id", c.userID))
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *Client) handle(ctx context.Context, cmd clientCommand) {
	convID := strings.TrimSpace(cmd.Data.ConversationID)
	switch cmd.Event {
	case "join_conversations":
		ids, err := c.hub.conversations.ListIDsByAssignee(ctx, c.userID)
		if err != nil {
			c.hub.logger.Error("bulk room join failed",
				slog.String("user_id", c.userID), slog.Any("error", err))
			return
		}
		for _, id := range ids {
			c.hub.join(c, ConversationRoom(id))
		}
		c.hub.logger.Info("joined assigned conversations",
			slog.String("user_id", c.userID), slog.Int("count", len(ids)))
	case "join_conversation":
		if convID != "" {
			c.hub.join(c, ConversationRoom(convID))
		}
	case "leave_conversation":
		if convID != "" {
			c.hub.leave(c, ConversationRoom(convID))
		}
	case "typing_start":
		if convID != "" {
			c.hub.broadcast(ConversationRoom(convID), EventUserTyping, map[string]any{
				"userId":         c.userID,
				"userName":       cmd.Data.UserName,
				"conversationId": convID,
			}, c)
		}
	case "typing_stop":
		if convID != "" {
			c.hub.broadcast(ConversationRoom(convID), EventUserStoppedTyping, map[string]any{
				"userId":         c.userID,
				"conversationId": convID,
			}, c)
		}
	case "message_read":
		if cmd.Data.MessageID == "" {
			return
		}
		if err := c.hub.receipts.MarkRead(ctx, cmd.Data.MessageID); err != nil {
			c.hub.logger.Error("persist read receipt failed",
				slog.String("message_id", cmd.Data.MessageID), slog.Any("error", err))
			return
		}
		if convID != "" {
			c.hub.broadcast(ConversationRoom(convID), EventMessageReadUpdate, map[string]any{
				"messageId": cmd.Data.MessageID,
				"userId":    c.userID,
				"readAt":    time.Now().UTC(),
			}, c)
		}
	default:
		c.hub.logger.Debug("ignore unknown client event", slog.String("event", cmd.Event))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
