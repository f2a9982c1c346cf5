// Package connector wires configuration into the right connection variant,
// pool, and version adapter, and exposes the public surface consumed by the
// diagnostics layers.
package connector

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/adapter"
	"github.com/contentops/cmconnect/pkg/clients"
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/connector/database"
	"github.com/contentops/cmconnect/pkg/connector/pool"
	"github.com/contentops/cmconnect/pkg/connector/restapi"
	"github.com/contentops/cmconnect/pkg/extract"
	"github.com/contentops/cmconnect/pkg/vault"
	"github.com/contentops/cmconnect/pkg/version"
)

// Factory creates connectors. Shared state (pool registry, adapter registry,
// credential vault, per-system circuit breakers) is held here and passed by
// reference, so independent factories never interfere.
type Factory struct {
	pools    *pool.Registry
	adapters *adapter.Registry
	vault    *vault.Vault
	creds    *vault.Store
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*clients.CircuitBreaker
}

// NewFactory creates a connector factory over the given shared registries.
func NewFactory(pools *pool.Registry, adapters *adapter.Registry, v *vault.Vault, creds *vault.Store, logger *zap.Logger) *Factory {
	return &Factory{
		pools:    pools,
		adapters: adapters,
		vault:    v,
		creds:    creds,
		logger:   logger,
		breakers: make(map[string]*clients.CircuitBreaker),
	}
}

// NewConnector validates the configuration, registers the system's pool if
// absent, and returns a connector. No network I/O happens here; the pool
// opens connections on first acquisition.
func (f *Factory) NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeConfig, "invalid connection config")
	}

	factory := f.connectionFactory(cfg)
	p := f.pools.GetOrCreate(cfg.SystemID, cfg.Pool, factory)

	retry := &clients.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialDelay:    cfg.Retry.InitialDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		Multiplier:      cfg.Retry.Multiplier,
		RandomizeFactor: cfg.Retry.RandomizeFactor,
	}

	breaker := f.breakerFor(cfg)
	detector := version.NewDetector(retry, f.logger)
	extractor := extract.New(cfg, p, f.adapters, detector, retry, breaker, f.logger)

	return &Connector{
		cfg:       cfg,
		pool:      p,
		pools:     f.pools,
		detector:  detector,
		extractor: extractor,
		breaker:   breaker,
		logger:    f.logger.With(zap.String("system_id", cfg.SystemID)),
	}, nil
}

// connectionFactory returns the pool factory for the config's protocol
// variant. Selection is tagged dispatch on the connector type; the variants
// share no state.
func (f *Factory) connectionFactory(cfg *config.ConnectionConfig) pool.Factory {
	return func(ctx context.Context) (core.Connection, error) {
		var conn core.Connection
		switch cfg.Type {
		case config.TypeRestAPI:
			conn = restapi.New(cfg, f.vault, f.creds, f.logger)
		default:
			conn = database.New(cfg, f.vault, f.creds, f.logger)
		}

		if err := conn.Open(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// breakerFor returns the circuit breaker shared by every connector to the
// same target system.
func (f *Factory) breakerFor(cfg *config.ConnectionConfig) *clients.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[cfg.SystemID]; ok {
		return b
	}

	b := clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, f.logger.With(zap.String("system_id", cfg.SystemID)))
	f.breakers[cfg.SystemID] = b
	return b
}
