package platform

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the closed set of registered platform adapters and provides
// capability lookups. Create via NewRegistry and pass explicitly to components
// that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Platform]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Platform]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	p := NormalizePlatform(adapter.Type().String())
	if p == "" {
		return fmt.Errorf("platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[p]; exists {
		return fmt.Errorf("platform already registered: %s", p)
	}
	r.adapters[p] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given platform.
func (r *Registry) Get(p Platform) (Adapter, bool) {
	p = NormalizePlatform(p.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[p]
	return adapter, ok
}

// Types returns all registered platforms in stable order.
func (r *Registry) Types() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Platform, 0, len(r.adapters))
	for p := range r.adapters {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// GetDescriptor returns the descriptor for the given platform.
func (r *Registry) GetDescriptor(p Platform) (Descriptor, bool) {
	adapter, ok := r.Get(p)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

// ParsePlatform validates and normalizes a raw string into a registered
// Platform.
func (r *Registry) ParsePlatform(raw string) (Platform, error) {
	p := NormalizePlatform(raw)
	if p == "" {
		return "", fmt.Errorf("unsupported platform: %s", raw)
	}
	if _, ok := r.Get(p); !ok {
		return "", fmt.Errorf("unsupported platform: %s", raw)
	}
	return p, nil
}

// GetSender returns the Sender for the given platform, or false if the
// platform is unknown or cannot send.
func (r *Registry) GetSender(p Platform) (Sender, bool) {
	adapter, ok := r.Get(p)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// GetParser returns the WebhookParser for the given platform, or false if the
// platform is unknown or has no webhook inbound.
func (r *Registry) GetParser(p Platform) (WebhookParser, bool) {
	adapter, ok := r.Get(p)
	if !ok {
		return nil, false
	}
	parser, ok := adapter.(WebhookParser)
	return parser, ok
}

// GetVerifier returns the SubscriptionVerifier for the given platform, or
// false if the platform does not use the GET handshake.
func (r *Registry) GetVerifier(p Platform) (SubscriptionVerifier, bool) {
	adapter, ok := r.Get(p)
	if !ok {
		return nil, false
	}
	verifier, ok := adapter.(SubscriptionVerifier)
	return verifier, ok
}

// GetPoller returns the Poller for the given platform, or false if the
// platform does not poll.
func (r *Registry) GetPoller(p Platform) (Poller, bool) {
	adapter, ok := r.Get(p)
	if !ok {
		return nil, false
	}
	poller, ok := adapter.(Poller)
	return poller, ok
}
