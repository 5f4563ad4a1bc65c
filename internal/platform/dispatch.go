package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnsupportedPlatform is returned when a request names a platform outside
// the registered set.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// EventHandler processes one normalized inbound event.
type EventHandler func(ctx context.Context, event InboundEvent) error

// Dispatcher routes outbound sends and inbound webhook payloads to the
// adapter registered for the platform.
type Dispatcher struct {
	logger   *slog.Logger
	registry *Registry
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(log *slog.Logger, registry *Registry) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:   log.With(slog.String("service", "dispatch")),
		registry: registry,
	}
}

// Send delivers an outbound message through the platform's Sender.
func (d *Dispatcher) Send(ctx context.Context, p Platform, req SendRequest) (SendResult, error) {
	if strings.TrimSpace(req.To) == "" {
		return SendResult{}, errors.New("send target is required")
	}
	sender, ok := d.registry.GetSender(p)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	result, err := sender.Send(ctx, req)
	if err != nil {
		return SendResult{}, fmt.Errorf("send via %s: %w", p, err)
	}
	return result, nil
}

// ReceiveResult summarizes one webhook ingestion pass.
type ReceiveResult struct {
	Processed int
	Failed    int
}

// Receive parses a raw webhook payload and feeds each normalized event to the
// handler. A payload that cannot be parsed at all is the only error; handler
// failures for individual events are logged and counted so one bad event never
// blocks the rest of the batch or the webhook ACK.
func (d *Dispatcher) Receive(ctx context.Context, p Platform, payload []byte, handler EventHandler) (ReceiveResult, error) {
	parser, ok := d.registry.GetParser(p)
	if !ok {
		return ReceiveResult{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	events, err := parser.ParseWebhook(ctx, payload)
	if err != nil {
		return ReceiveResult{}, fmt.Errorf("parse %s webhook: %w", p, err)
	}

	var result ReceiveResult
	for _, event := range events {
		if err := handler(ctx, event); err != nil {
			result.Failed++
			d.logger.Error("inbound event failed",
				slog.String("platform", p.String()),
				slog.String("platform_id", event.PlatformID),
				slog.String("platform_message_id", event.PlatformMessageID),
				slog.Any("error", err),
			)
			continue
		}
		result.Processed++
	}
	return result, nil
}
