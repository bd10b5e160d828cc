package adapters

import (
	"strings"
	"sync"

	"github.com/localcard/localcard/internal/provider/domain"
)

// Registry holds one factory per provider and caches built clients.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]domain.Factory
	clients   map[string]domain.Client
}

// NewRegistry registers the given factories.
func NewRegistry(factories ...domain.Factory) *Registry {
	r := &Registry{
		factories: make(map[string]domain.Factory, len(factories)),
		clients:   make(map[string]domain.Client),
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if name == "" {
			continue
		}
		r.factories[name] = factory
	}
	return r
}

// ProviderExists reports whether a factory is registered for the provider.
func (r *Registry) ProviderExists(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// Client returns the cached client for a provider, building it on first use.
func (r *Registry) Client(provider string, cfg domain.ClientConfig) (domain.Client, error) {
	name := strings.ToLower(strings.TrimSpace(provider))

	r.mu.RLock()
	client, ok := r.clients[name]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	client, err := factory.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	r.clients[name] = client
	return client, nil
}
