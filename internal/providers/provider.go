// Package providers defines the analysis providers fanned out by one report
// generation attempt. Providers are independent: one failing never aborts
// the others.
package providers

import (
	"context"
	"encoding/json"
	"sync"
)

// Provider is a single external analysis source.
type Provider interface {
	// Name returns the provider identifier recorded in the report's
	// provider trace.
	Name() string
	// CostUSD estimates the cost of one Analyze call.
	CostUSD() float64
	// Analyze inspects the domain and returns its slice of the report
	// payload.
	Analyze(ctx context.Context, domain string) (json.RawMessage, error)
}

// Registry manages the providers available to the generation orchestrator.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// All returns the registered providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
