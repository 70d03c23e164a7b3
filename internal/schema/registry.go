package schema

import (
	"context"
	"database/sql"
	"sync"
)

// Querier is the subset of the data layer the registry needs. *sql.DB and
// *sql.Tx both satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Registry loads entity configurations from the system catalog and memoizes
// them per (entity, tenant). Concurrent loads of the same key may race and
// query the catalog redundantly; loads are idempotent and the last write wins,
// but a cached value is always a fully constructed aggregate.
type Registry struct {
	mu          sync.RWMutex
	db          Querier
	placeholder func(index int) string
	cache       map[cacheKey]*EntityConfiguration
}

type cacheKey struct {
	entity string
	tenant string
}

// NewRegistry creates a Registry over the given catalog connection. The
// placeholder function supplies the dialect's 1-based parameter syntax.
func NewRegistry(db Querier, placeholder func(int) string) *Registry {
	return &Registry{
		db:          db,
		placeholder: placeholder,
		cache:       make(map[cacheKey]*EntityConfiguration),
	}
}

// Load returns the configuration for (entityName, tenant), reading the system
// catalog on a cache miss.
func (r *Registry) Load(ctx context.Context, entityName, tenant string) (*EntityConfiguration, error) {
	key := cacheKey{entity: entityName, tenant: tenant}

	r.mu.RLock()
	cfg, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := r.loadConfiguration(ctx, entityName, tenant)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cfg
	r.mu.Unlock()
	return cfg, nil
}

// Invalidate clears cache entries matching the given entity and tenant.
// An empty argument matches everything on that axis.
func (r *Registry) Invalidate(entityName, tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if entityName != "" && key.entity != entityName {
			continue
		}
		if tenant != "" && key.tenant != tenant {
			continue
		}
		delete(r.cache, key)
	}
}

// CachedKeys returns the number of cached configurations. Test hook.
func (r *Registry) CachedKeys() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
