package platform

import "context"

// Adapter is the base interface every platform adapter must implement.
// Behavior beyond identification is expressed through the optional capability
// interfaces below; callers discover capabilities through the Registry.
type Adapter interface {
	Type() Platform
	Descriptor() Descriptor
}

// Sender is an adapter capable of delivering outbound messages.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// WebhookParser normalizes a raw webhook body into inbound events. A nil
// error with zero events means the payload was valid but carried nothing to
// ingest (delivery receipts, read receipts, echoes). Events that cannot be
// normalized individually are logged and skipped, never returned as errors.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte) ([]InboundEvent, error)
}

// SubscriptionVerifier handles the Meta-style GET subscription handshake.
type SubscriptionVerifier interface {
	VerifySubscription(mode, token string) bool
}

// Poller is an adapter that fetches inbound messages by polling instead of
// (or in addition to) webhooks.
type Poller interface {
	Poll(ctx context.Context) ([]InboundEvent, error)
}
