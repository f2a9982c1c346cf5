package connector

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/clients"
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/connector/pool"
	"github.com/contentops/cmconnect/pkg/extract"
	"github.com/contentops/cmconnect/pkg/metrics"
	"github.com/contentops/cmconnect/pkg/models"
	"github.com/contentops/cmconnect/pkg/version"
)

// Connector is the public handle to one configured target system. All
// operations borrow connections from the system's shared pool and return
// them before the call completes; callers never hold raw connections.
type Connector struct {
	cfg       *config.ConnectionConfig
	pool      *pool.Pool
	pools     *pool.Registry
	detector  *version.Detector
	extractor *extract.Extractor
	breaker   *clients.CircuitBreaker
	logger    *zap.Logger

	closed atomic.Bool
}

// SystemID returns the identifier of the configured target system.
func (c *Connector) SystemID() string {
	return c.cfg.SystemID
}

// Connect verifies the target is reachable with the stored credentials by
// opening the pool's first connection. The connector is usable without
// calling Connect; this exists so callers can fail fast at startup.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}

	slot, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	c.pool.Release(ctx, slot, true)
	c.publishPool()
	return nil
}

// Disconnect closes the system's pool and marks the connector unusable.
// In-flight operations finish against their borrowed connections; new
// operations fail.
func (c *Connector) Disconnect(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.pools.Remove(c.cfg.SystemID)
	c.logger.Info("connector disconnected")
	return nil
}

// DetectVersion probes the target and returns the detected version. The
// result is cached; repeated calls return the same VersionInfo without
// touching the backend.
func (c *Connector) DetectVersion(ctx context.Context) (*core.VersionInfo, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	slot, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	info, err := c.detector.Detect(ctx, slot.Connection())
	c.pool.Release(ctx, slot, err == nil || !cmerrors.IsRetryable(err))
	c.publishPool()

	if info != nil {
		metrics.VersionDetections.WithLabelValues(c.cfg.SystemID, info.Version).Inc()
	}
	return info, err
}

// ExtractSystemConfig reads the target's system configuration record.
func (c *Connector) ExtractSystemConfig(ctx context.Context) (*models.UnifiedSystem, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	sys, err := c.extractor.System(ctx)
	c.observe(core.EntitySystem, timer, err)
	return sys, err
}

// ExtractUsers returns a lazy iterator over the target's user accounts.
// Iterator errors carry the offset needed to resume; see UserIterator.
func (c *Connector) ExtractUsers(ctx context.Context, opts extract.UserOptions) (*extract.UserIterator, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.extractor.Users(ctx, opts), nil
}

// ExtractRecords extracts record metadata matching the given filters.
func (c *Connector) ExtractRecords(ctx context.Context, filters []core.Filter, fields []string) ([]*models.UnifiedRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	recs, err := c.extractor.Records(ctx, filters, fields)
	c.observe(core.EntityRecord, timer, err)
	return recs, err
}

// ExtractDocuments extracts document metadata matching the given filters.
// Content bytes are never fetched, only store pointers and hashes.
func (c *Connector) ExtractDocuments(ctx context.Context, filters []core.Filter, fields []string) ([]*models.UnifiedDocument, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	docs, err := c.extractor.Documents(ctx, filters, fields)
	c.observe(core.EntityDocument, timer, err)
	return docs, err
}

// CheckHealth pings the target over a pooled connection and reports
// reachability and round-trip latency. It never returns an error; failures
// are reported in the status.
func (c *Connector) CheckHealth(ctx context.Context) core.HealthStatus {
	if err := c.guard(); err != nil {
		return core.HealthStatus{Connected: false, LastError: err.Error()}
	}

	timer := metrics.NewTimer()
	slot, err := c.pool.Acquire(ctx)
	if err != nil {
		return core.HealthStatus{Connected: false, LastError: err.Error()}
	}

	err = slot.Connection().Ping(ctx)
	elapsed := timer.Stop()
	c.pool.Release(ctx, slot, err == nil)
	c.publishPool()

	status := core.HealthStatus{
		Connected: err == nil,
		LatencyMs: elapsed.Milliseconds(),
	}
	if err != nil {
		status.LastError = err.Error()
	}
	return status
}

// Metrics returns a snapshot of the system's pool occupancy.
func (c *Connector) Metrics() core.PoolMetrics {
	return c.pool.Metrics()
}

func (c *Connector) guard() error {
	if c.closed.Load() {
		return cmerrors.New(cmerrors.ErrorTypeConnection, "connector is disconnected").
			WithSystem(c.cfg.SystemID)
	}
	return nil
}

func (c *Connector) observe(entity core.Entity, timer *metrics.Timer, err error) {
	elapsed := timer.Stop()
	outcome := "success"
	if err != nil {
		outcome = string(cmerrors.TypeOf(err))
	}
	metrics.RecordExtraction(c.cfg.SystemID, string(entity), outcome)
	metrics.ObserveBackend(c.cfg.SystemID, string(c.cfg.Type), elapsed)
	c.publishPool()
}

func (c *Connector) publishPool() {
	m := c.pool.Metrics()
	metrics.SetPoolMetrics(c.cfg.SystemID, m.Total, m.Available, m.InUse, m.Pending)
	metrics.BreakerState.WithLabelValues(c.cfg.SystemID).Set(float64(c.breaker.State()))
}
