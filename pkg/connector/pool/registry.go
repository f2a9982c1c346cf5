package pool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Registry holds one pool per target system. It is an explicit object passed
// by reference into the connection factory and extractors, so tests can run
// independent registries side by side.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	logger *zap.Logger
}

// NewRegistry creates an empty pool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		pools:  make(map[string]*Pool),
		logger: logger,
	}
}

// GetOrCreate returns the pool for a system, creating it on first
// registration. The factory is only used when the pool does not exist yet.
func (r *Registry) GetOrCreate(systemID string, cfg config.PoolConfig, factory Factory) *Pool {
	r.mu.RLock()
	p, ok := r.pools[systemID]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[systemID]; ok {
		return p
	}

	p = New(systemID, cfg, factory, r.logger)
	r.pools[systemID] = p
	r.logger.Info("registered connection pool", zap.String("system_id", systemID))
	return p
}

// Get returns the pool for a system, or nil if none is registered.
func (r *Registry) Get(systemID string) *Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[systemID]
}

// Remove closes and drops the pool for a system.
func (r *Registry) Remove(systemID string) {
	r.mu.Lock()
	p, ok := r.pools[systemID]
	delete(r.pools, systemID)
	r.mu.Unlock()

	if ok {
		p.Close()
	}
}

// Metrics returns occupancy snapshots for every registered pool.
func (r *Registry) Metrics() map[string]core.PoolMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]core.PoolMetrics, len(r.pools))
	for id, p := range r.pools {
		out[id] = p.Metrics()
	}
	return out
}

// Close shuts down every pool in the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
