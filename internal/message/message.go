// Package message persists the append-only message log.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/omnidesk/internal/db"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// ErrNotFound is returned when no message matches the lookup.
var ErrNotFound = errors.New("message not found")

// Message is one entry in a conversation's log.
type Message struct {
	ID                string               `json:"id"`
	ConversationID    string               `json:"conversationId"`
	SenderID          string               `json:"senderId,omitempty"`
	SenderType        platform.SenderType  `json:"senderType"`
	Content           string               `json:"content"`
	MessageType       platform.MessageType `json:"messageType"`
	PlatformMessageID string               `json:"platformMessageId,omitempty"`
	IsRead            bool                 `json:"isRead"`
	ReadAt            time.Time            `json:"readAt,omitempty"`
	Metadata          map[string]any       `json:"metadata,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// CreateInput holds the fields for a new message row.
type CreateInput struct {
	ConversationID    string
	SenderID          string
	SenderType        platform.SenderType
	Content           string
	MessageType       platform.MessageType
	PlatformMessageID string
	IsRead            bool
	Metadata          map[string]any
}

// Store reads and writes message rows.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore creates a message store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "message")),
		pool:   pool,
	}
}

const messageColumns = `id, conversation_id, sender_id, sender_type, content, message_type,
	COALESCE(platform_message_id, ''), is_read, read_at, metadata, created_at`

// Create appends a message to a conversation.
func (s *Store) Create(ctx context.Context, input CreateInput) (Message, error) {
	pgConvID, err := db.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgSenderID, err := db.ParseOptionalUUID(input.SenderID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid sender id: %w", err)
	}
	metaBytes, err := json.Marshal(nonNilMap(input.Metadata))
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}
	msgType := input.MessageType
	if msgType == "" {
		msgType = platform.MessageTypeText
	}

	query := fmt.Sprintf(`
		INSERT INTO messages (conversation_id, sender_id, sender_type, content, message_type,
			platform_message_id, is_read, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`, messageColumns)
	row := s.pool.QueryRow(ctx, query,
		pgConvID, pgSenderID, string(input.SenderType), input.Content, string(msgType),
		db.ToPgText(input.PlatformMessageID), input.IsRead, metaBytes,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// ListByConversation returns one page of a conversation's log in
// chronological order, plus the unpaged total.
func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]Message, int, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1`, pgConvID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, messageColumns)
	rows, err := s.pool.Query(ctx, query, pgConvID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, total, rows.Err()
}

// MarkConversationRead flags every unread message in a conversation as read.
// This is the only bulk mutation on the log. Returns the flagged message ids.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) ([]string, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET is_read = true, read_at = now()
		WHERE conversation_id = $1 AND is_read = false
		RETURNING id`, pgConvID)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead flags a single message as read.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = true, read_at = now()
		WHERE id = $1 AND is_read = false`, pgID); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// AttachDelivery stores the platform send acknowledgment on an agent message.
// Callers treat failure as best-effort; the message row already exists.
func (s *Store) AttachDelivery(ctx context.Context, id, platformMessageID string, raw map[string]any) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	rawBytes, err := json.Marshal(nonNilMap(raw))
	if err != nil {
		return fmt.Errorf("marshal platform response: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET
			platform_message_id = $2,
			metadata = metadata || jsonb_build_object('platformResponse', $3::jsonb)
		WHERE id = $1`,
		pgID, db.ToPgText(platformMessageID), rawBytes)
	if err != nil {
		return fmt.Errorf("attach delivery metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg       Message
		senderID  pgtype.UUID
		readAt    pgtype.Timestamptz
		metaBytes []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &senderID, &msg.SenderType, &msg.Content, &msg.MessageType,
		&msg.PlatformMessageID, &msg.IsRead, &readAt, &metaBytes, &msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	msg.SenderID = db.UUIDString(senderID)
	msg.ReadAt = db.TimeFromPg(readAt)
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &msg.Metadata)
	}
	return msg, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
