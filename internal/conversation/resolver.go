package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnidesk/omnidesk/internal/customer"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// CustomerStore is the customer surface the resolver needs.
type CustomerStore interface {
	FindByPhone(ctx context.Context, phone, source string) (customer.Customer, error)
	FindByEmail(ctx context.Context, email, source string) (customer.Customer, error)
	Create(ctx context.Context, input customer.CreateInput) (customer.Customer, error)
}

// ConversationStore is the conversation surface the resolver needs.
type ConversationStore interface {
	Upsert(ctx context.Context, p platform.Platform, platformID, customerID string, metadata map[string]any) (Conversation, bool, error)
}

// Resolver finds or creates the customer and conversation for an inbound
// event. The conversation upsert keys on (platform, platform_id) so duplicate
// webhook deliveries and concurrent events for the same thread are idempotent.
type Resolver struct {
	logger        *slog.Logger
	customers     CustomerStore
	conversations ConversationStore
	registry      *platform.Registry
}

// NewResolver creates a Resolver.
func NewResolver(log *slog.Logger, customers CustomerStore, conversations ConversationStore, registry *platform.Registry) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:        log.With(slog.String("service", "resolver")),
		customers:     customers,
		conversations: conversations,
		registry:      registry,
	}
}

// Resolve returns the conversation for an inbound event, creating the
// customer and conversation rows when the sender is new.
func (r *Resolver) Resolve(ctx context.Context, event platform.InboundEvent) (Conversation, error) {
	if strings.TrimSpace(event.PlatformID) == "" {
		return Conversation{}, errors.New("inbound event has no platform id")
	}
	desc, ok := r.registry.GetDescriptor(event.Platform)
	if !ok {
		return Conversation{}, fmt.Errorf("unsupported platform: %s", event.Platform)
	}

	cust, err := r.findOrCreateCustomer(ctx, desc, event)
	if err != nil {
		return Conversation{}, fmt.Errorf("resolve customer: %w", err)
	}

	conv, _, err := r.conversations.Upsert(ctx, event.Platform, event.PlatformID, cust.ID, event.Metadata)
	if err != nil {
		return Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}
	conv.Customer = &cust
	return conv, nil
}

func (r *Resolver) findOrCreateCustomer(ctx context.Context, desc platform.Descriptor, event platform.InboundEvent) (customer.Customer, error) {
	source := event.Platform.String()
	key := strings.TrimSpace(event.CustomerKey)
	if key == "" {
		key = event.PlatformID
	}

	var (
		cust customer.Customer
		err  error
	)
	if desc.CustomerKeyField == "email" {
		cust, err = r.customers.FindByEmail(ctx, key, source)
	} else {
		cust, err = r.customers.FindByPhone(ctx, key, source)
	}
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, customer.ErrNotFound) {
		return customer.Customer{}, err
	}

	first, last := resolveName(desc, event)
	input := customer.CreateInput{
		FirstName: first,
		LastName:  last,
		Source:    source,
	}
	if desc.CustomerKeyField == "email" {
		input.Email = key
	} else {
		input.Phone = key
	}
	if username, ok := event.Metadata["username"].(string); ok && username != "" {
		input.Notes = fmt.Sprintf("Username: @%s", username)
	}
	return r.customers.Create(ctx, input)
}

// resolveName prefers the webhook profile name and falls back to the
// platform-generic placeholder ("WhatsApp User" and friends).
func resolveName(desc platform.Descriptor, event platform.InboundEvent) (string, string) {
	first := strings.TrimSpace(event.ProfileFirstName)
	last := strings.TrimSpace(event.ProfileLastName)
	if first == "" && last == "" {
		if name := strings.TrimSpace(event.ProfileName); name != "" {
			parts := strings.Fields(name)
			first = parts[0]
			last = strings.Join(parts[1:], " ")
		}
	}

	defaultFirst, defaultLast := splitDefaultName(desc.DefaultName)
	if first == "" {
		first = defaultFirst
	}
	if last == "" {
		last = defaultLast
	}
	return first, last
}

func splitDefaultName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "Unknown", "User"
	case 1:
		return parts[0], "User"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
