// Package registry maps a resolved caller identity to a lazily-created,
// cached API client.
//
// By default the registry never evicts: per-identity clients live for the
// process lifetime, which is acceptable for the target deployment model
// but grows without bound. Setting MaxClients turns on LRU eviction as a
// production hardening; eviction also purges the evicted identity's
// pagination state through the OnEvict callback so a later call cannot
// pair a live cursor with a vanished client.
package registry

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/osbuild/image-builder-mcp/pkg/auth"
	"github.com/osbuild/image-builder-mcp/pkg/imagebuilder"
	"github.com/osbuild/image-builder-mcp/pkg/metrics"
)

// Factory constructs the API client for a newly seen identity.
type Factory func(identity auth.Identity) (*imagebuilder.Client, error)

// Config holds registry construction parameters.
type Config struct {
	Factory Factory

	// MaxClients bounds the cache. Zero keeps the unbounded source
	// behavior.
	MaxClients int

	// OnEvict is called with the evicted identity key when MaxClients is
	// exceeded.
	OnEvict func(identityKey string)

	Metrics *metrics.Metrics
}

// Registry is a concurrency-safe identity → client store.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	metrics *metrics.Metrics

	// Exactly one of clients / bounded is used.
	clients map[string]*imagebuilder.Client
	bounded *lru.Cache[string, *imagebuilder.Client]
}

// New creates a registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("registry: factory is required")
	}
	r := &Registry{
		factory: cfg.Factory,
		metrics: cfg.Metrics,
	}
	if cfg.MaxClients > 0 {
		onEvict := func(key string, _ *imagebuilder.Client) {
			if cfg.OnEvict != nil {
				cfg.OnEvict(key)
			}
		}
		cache, err := lru.NewWithEvict(cfg.MaxClients, onEvict)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		r.bounded = cache
	} else {
		r.clients = make(map[string]*imagebuilder.Client)
	}
	return r, nil
}

// GetOrCreate returns the client for the identity, constructing it on
// first use. Construction is atomic with respect to the registry's own
// storage: concurrent calls with the same identity observe a single
// client instance and therefore a single token cache.
func (r *Registry) GetOrCreate(identity auth.Identity) (*imagebuilder.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Key()

	if client, ok := r.lookup(key); ok {
		if identity.BearerToken != "" {
			client.UpdateBearerToken(identity.BearerToken)
		}
		return client, nil
	}

	client, err := r.factory(identity)
	if err != nil {
		return nil, err
	}
	r.store(key, client)
	r.metrics.SetClientsCached(r.size())
	return client, nil
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size()
}

func (r *Registry) lookup(key string) (*imagebuilder.Client, bool) {
	if r.bounded != nil {
		return r.bounded.Get(key)
	}
	client, ok := r.clients[key]
	return client, ok
}

func (r *Registry) store(key string, client *imagebuilder.Client) {
	if r.bounded != nil {
		r.bounded.Add(key, client)
		return
	}
	r.clients[key] = client
}

func (r *Registry) size() int {
	if r.bounded != nil {
		return r.bounded.Len()
	}
	return len(r.clients)
}
