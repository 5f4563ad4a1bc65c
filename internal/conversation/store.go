// Package conversation persists conversation threads and keeps their message
// aggregates consistent.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/omnidesk/internal/customer"
	"github.com/omnidesk/omnidesk/internal/db"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// ErrNotFound is returned when no conversation matches the lookup.
var ErrNotFound = errors.New("conversation not found")

// Store reads and writes conversation rows.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "conversation")),
		pool:   pool,
	}
}

const conversationColumns = `c.id, c.platform, c.platform_id, c.customer_id, c.status, c.priority,
	c.assigned_to, c.last_message_at, c.last_message_from, c.unread_count, c.metadata,
	c.created_at, c.updated_at`

// Upsert finds or creates the conversation for (platform, platform_id). The
// unique constraint makes concurrent webhook deliveries for the same thread
// converge on one row; the no-op conflict update lets RETURNING yield the
// existing row. Created reports whether this call inserted the row.
func (s *Store) Upsert(ctx context.Context, p platform.Platform, platformID, customerID string, metadata map[string]any) (Conversation, bool, error) {
	pgCustomerID, err := db.ParseUUID(customerID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("invalid customer id: %w", err)
	}
	metaBytes, err := json.Marshal(nonNilMap(metadata))
	if err != nil {
		return Conversation{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO conversations (platform, platform_id, customer_id, status, metadata)
		VALUES ($1, $2, $3, 'new', $4)
		ON CONFLICT (platform, platform_id) DO UPDATE SET updated_at = now()
		RETURNING %s, (xmax = 0) AS inserted`,
		strings.ReplaceAll(conversationColumns, "c.", ""))

	row := s.pool.QueryRow(ctx, query, p.String(), platformID, pgCustomerID, metaBytes)
	conv, created, err := scanConversationCreated(row)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("upsert conversation: %w", err)
	}
	if created {
		s.logger.Info("conversation created",
			slog.String("conversation_id", conv.ID),
			slog.String("platform", p.String()),
			slog.String("platform_id", platformID),
		)
	}
	return conv, created, nil
}

// Get returns a conversation with its customer attached.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	query := fmt.Sprintf(`
		SELECT %s,
			cu.id, cu.first_name, cu.last_name, COALESCE(cu.email, ''), COALESCE(cu.phone, ''),
			COALESCE(cu.company, ''), cu.source, cu.status, COALESCE(cu.notes, ''), cu.created_at, cu.updated_at
		FROM conversations c
		JOIN customers cu ON cu.id = c.customer_id
		WHERE c.id = $1`, conversationColumns)
	conv, err := scanConversationWithCustomer(s.pool.QueryRow(ctx, query, pgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

// List returns a filtered, paged conversation list ordered by most recent
// activity. Search matches customer name, email, phone, and platform id.
func (s *Store) List(ctx context.Context, filter ListFilter) (Page, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Platform != "" {
		where = append(where, "c.platform = "+arg(filter.Platform))
	}
	if filter.Status != "" {
		where = append(where, "c.status = "+arg(filter.Status))
	}
	if filter.AssignedTo != "" {
		pgUserID, err := db.ParseUUID(filter.AssignedTo)
		if err != nil {
			return Page{}, fmt.Errorf("invalid assignee id: %w", err)
		}
		where = append(where, "c.assigned_to = "+arg(pgUserID))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		placeholder := arg(pattern)
		where = append(where, fmt.Sprintf(
			"(cu.first_name ILIKE %[1]s OR cu.last_name ILIKE %[1]s OR cu.email ILIKE %[1]s OR cu.phone ILIKE %[1]s OR c.platform_id ILIKE %[1]s)",
			placeholder))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQuery := fmt.Sprintf(`
		SELECT count(*)
		FROM conversations c
		JOIN customers cu ON cu.id = c.customer_id
		%s`, whereClause)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count conversations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s,
			cu.id, cu.first_name, cu.last_name, COALESCE(cu.email, ''), COALESCE(cu.phone, ''),
			COALESCE(cu.company, ''), cu.source, cu.status, COALESCE(cu.notes, ''), cu.created_at, cu.updated_at
		FROM conversations c
		JOIN customers cu ON cu.id = c.customer_id
		%s
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT %s OFFSET %s`, conversationColumns, whereClause, arg(limit), arg(offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0, limit)
	for rows.Next() {
		conv, err := scanConversationWithCustomer(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conv)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total}, nil
}

// Assign sets the conversation's assigned agent. An empty user id clears the
// assignment.
func (s *Store) Assign(ctx context.Context, id, userID string) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgUserID, err := db.ParseOptionalUUID(userID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid user id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE conversations c SET assigned_to = $2, updated_at = now()
		WHERE c.id = $1
		RETURNING %s`, conversationColumns)
	return s.returningOne(ctx, query, pgID, pgUserID)
}

// UpdateStatus sets the conversation status explicitly.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE conversations c SET status = $2, updated_at = now()
		WHERE c.id = $1
		RETURNING %s`, conversationColumns)
	return s.returningOne(ctx, query, pgID, string(status))
}

// MarkRead zeroes the unread counter.
func (s *Store) MarkRead(ctx context.Context, id string) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE conversations c SET unread_count = 0, updated_at = now()
		WHERE c.id = $1
		RETURNING %s`, conversationColumns)
	return s.returningOne(ctx, query, pgID)
}

// ApplyInbound folds a customer message into the aggregates: activity
// timestamp, sender marker, unread counter, and the new to in_progress
// auto-advance. Resolved and closed conversations keep their status.
func (s *Store) ApplyInbound(ctx context.Context, id string, at time.Time) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE conversations c SET
			last_message_at = $2,
			last_message_from = 'customer',
			unread_count = unread_count + 1,
			status = CASE WHEN status = 'new' THEN 'in_progress' ELSE status END,
			updated_at = now()
		WHERE c.id = $1
		RETURNING %s`, conversationColumns)
	return s.returningOne(ctx, query, pgID, db.ToPgTimestamptz(at))
}

// ApplyOutbound folds an agent message into the aggregates. Agent replies do
// not touch the unread counter.
func (s *Store) ApplyOutbound(ctx context.Context, id string, at time.Time) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE conversations c SET
			last_message_at = $2,
			last_message_from = 'agent',
			status = CASE WHEN status = 'new' THEN 'in_progress' ELSE status END,
			updated_at = now()
		WHERE c.id = $1
		RETURNING %s`, conversationColumns)
	return s.returningOne(ctx, query, pgID, db.ToPgTimestamptz(at))
}

// ListIDsByAssignee returns the ids of all conversations assigned to an
// agent, for the bulk room join on realtime connect.
func (s *Store) ListIDsByAssignee(ctx context.Context, userID string) ([]string, error) {
	pgUserID, err := db.ParseUUID(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM conversations WHERE assigned_to = $1`, pgUserID)
	if err != nil {
		return nil, fmt.Errorf("list assigned conversations: %w", err)
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

// Stats aggregates conversation counts for the dashboard.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByPlatform: map[string]int{},
		ByStatus:   map[string]int{},
	}
	rows, err := s.pool.Query(ctx, `
		SELECT platform, status, count(*), COALESCE(sum(unread_count), 0)
		FROM conversations
		GROUP BY platform, status`)
	if err != nil {
		return Stats{}, fmt.Errorf("conversation stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p, status     string
			count, unread int
		)
		if err := rows.Scan(&p, &status, &count, &unread); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		stats.TotalUnread += unread
		stats.ByPlatform[p] += count
		stats.ByStatus[status] += count
	}
	return stats, rows.Err()
}

// ReconcileUnread recomputes unread counters from the message table. A crash
// between message persist and aggregate update leaves a counter stale; this
// repairs it. Returns the number of corrected conversations.
func (s *Store) ReconcileUnread(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations c SET unread_count = m.unread, updated_at = now()
		FROM (
			SELECT c2.id, count(msg.id) FILTER (WHERE NOT msg.is_read AND msg.sender_type = 'customer') AS unread
			FROM conversations c2
			LEFT JOIN messages msg ON msg.conversation_id = c2.id
			GROUP BY c2.id
		) m
		WHERE m.id = c.id AND c.unread_count <> m.unread`)
	if err != nil {
		return 0, fmt.Errorf("reconcile unread counters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) returningOne(ctx context.Context, query string, args ...any) (Conversation, error) {
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationInto(row rowScanner, extra ...any) (Conversation, error) {
	var (
		conv       Conversation
		assignedTo pgtype.UUID
		lastAt     pgtype.Timestamptz
		lastFrom   pgtype.Text
		metaBytes  []byte
	)
	dest := []any{
		&conv.ID, &conv.Platform, &conv.PlatformID, &conv.CustomerID, &conv.Status, &conv.Priority,
		&assignedTo, &lastAt, &lastFrom, &conv.UnreadCount, &metaBytes,
		&conv.CreatedAt, &conv.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return Conversation{}, err
	}
	conv.AssignedTo = db.UUIDString(assignedTo)
	conv.LastMessageAt = db.TimeFromPg(lastAt)
	conv.LastMessageFrom = db.TextToString(lastFrom)
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &conv.Metadata)
	}
	return conv, nil
}

func scanConversation(row rowScanner) (Conversation, error) {
	return scanConversationInto(row)
}

func scanConversationCreated(row rowScanner) (Conversation, bool, error) {
	var created bool
	conv, err := scanConversationInto(row, &created)
	return conv, created, err
}

func scanConversationWithCustomer(row rowScanner) (Conversation, error) {
	var cu customer.Customer
	conv, err := scanConversationInto(row,
		&cu.ID, &cu.FirstName, &cu.LastName, &cu.Email, &cu.Phone,
		&cu.Company, &cu.Source, &cu.Status, &cu.Notes, &cu.CreatedAt, &cu.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	conv.Customer = &cu
	return conv, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
