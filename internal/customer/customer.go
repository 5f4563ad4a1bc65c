// Package customer persists customer records keyed by platform identity.
package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/omnidesk/internal/db"
)

// ErrNotFound is returned when no customer matches the lookup.
var ErrNotFound = errors.New("customer not found")

// Customer is a person reaching the desk through one of the platforms.
// Telegram user ids and Messenger sender ids are stored in Phone.
type Customer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput holds the fields for a new customer row.
type CreateInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Source    string
	Notes     string
}

// Store reads and writes customer rows.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore creates a customer store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "customer")),
		pool:   pool,
	}
}

const customerColumns = `id, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(company, ''), source, status, COALESCE(notes, ''), created_at, updated_at`

// FindByPhone looks up a customer by phone identity within a source platform.
func (s *Store) FindByPhone(ctx context.Context, phone, source string) (Customer, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE phone = $1 AND source = $2`, customerColumns)
	return s.queryOne(ctx, query, phone, source)
}

// FindByEmail looks up a customer by email identity within a source platform.
func (s *Store) FindByEmail(ctx context.Context, email, source string) (Customer, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE email = $1 AND source = $2`, customerColumns)
	return s.queryOne(ctx, query, email, source)
}

// Get returns a customer by id.
func (s *Store) Get(ctx context.Context, id string) (Customer, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Customer{}, fmt.Errorf("invalid customer id: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE id = $1`, customerColumns)
	return s.queryOne(ctx, query, pgID)
}

// Create inserts a new customer row.
func (s *Store) Create(ctx context.Context, input CreateInput) (Customer, error) {
	query := fmt.Sprintf(`
		INSERT INTO customers (first_name, last_name, email, phone, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, customerColumns)
	row := s.pool.QueryRow(ctx, query,
		input.FirstName, input.LastName,
		db.ToPgText(input.Email), db.ToPgText(input.Phone),
		input.Source, db.ToPgText(input.Notes),
	)
	c, err := scanCustomer(row)
	if err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	s.logger.Info("customer created",
		slog.String("customer_id", c.ID),
		slog.String("source", c.Source),
	)
	return c, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Company, &c.Source, &c.Status, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
