// Package channels defines the contract every messaging channel adapter
// implements and a registry the gateway routes webhooks through.
package channels

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/storechat/storechat/internal/bus"
)

// ErrBadSignature means the webhook could not be authenticated. The gateway
// answers these with 401 and the payload is never parsed.
var ErrBadSignature = errors.New("webhook signature verification failed")

// SendResult reports what the channel's API said about an outbound send.
type SendResult struct {
	Delivered         bool
	ProviderMessageID string
}

// Adapter is one messaging channel.
type Adapter interface {
	Name() string
	// VerifySignature authenticates a raw webhook body against its headers
	// before anything parses it.
	VerifySignature(body []byte, header http.Header) error
	// Normalize extracts the inbound messages from a verified webhook body.
	// Status callbacks and other non-message events yield an empty slice.
	Normalize(body []byte) ([]bus.InboundMessage, error)
	// Send delivers one outbound message to the customer.
	Send(ctx context.Context, msg bus.OutboundMessage) (SendResult, error)
}

// Registry holds the enabled adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name, or nil when the channel is not enabled.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
