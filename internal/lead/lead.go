// Package lead persists captured sales leads.
package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/omnidesk/internal/db"
)

// Lead is a captured contact-form submission.
type Lead struct {
	ID            string         `json:"id"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Email         string         `json:"email,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	Company       string         `json:"company,omitempty"`
	Message       string         `json:"message,omitempty"`
	Source        string         `json:"source"`
	SourceDetails map[string]any `json:"sourceDetails,omitempty"`
	Status        string         `json:"status"`
	Priority      string         `json:"priority"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CreateInput holds the fields for a new lead row.
type CreateInput struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Company       string
	Message       string
	Source        string
	SourceDetails map[string]any
}

// Store reads and writes lead rows.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore creates a lead store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "lead")),
		pool:   pool,
	}
}

const leadColumns = `id, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(company, ''), COALESCE(message, ''), source, source_details, status, priority,
	created_at, updated_at`

// Create inserts a new lead with status new and medium priority.
func (s *Store) Create(ctx context.Context, input CreateInput) (Lead, error) {
	source := input.Source
	if source == "" {
		source = "website"
	}
	details := input.SourceDetails
	if details == nil {
		details = map[string]any{}
	}
	detailBytes, err := json.Marshal(details)
	if err != nil {
		return Lead{}, fmt.Errorf("marshal source details: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO leads (first_name, last_name, email, phone, company, message, source, source_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`, leadColumns)
	row := s.pool.QueryRow(ctx, query,
		input.FirstName, input.LastName,
		db.ToPgText(input.Email), db.ToPgText(input.Phone), db.ToPgText(input.Company),
		db.ToPgText(input.Message), source, detailBytes,
	)
	l, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	s.logger.Info("lead created", slog.String("lead_id", l.ID), slog.String("source", l.Source))
	return l, nil
}

// List returns leads newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit, offset int) ([]Lead, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s FROM leads
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, leadColumns)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		l           Lead
		detailBytes []byte
	)
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone,
		&l.Company, &l.Message, &l.Source, &detailBytes, &l.Status, &l.Priority,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	if len(detailBytes) > 0 {
		_ = json.Unmarshal(detailBytes, &l.SourceDetails)
	}
	return l, nil
}
