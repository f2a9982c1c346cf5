// Package extract orchestrates pooled connections, version adapters, and the
// resilience primitives to pull raw data and normalize it into unified
// models. Extraction never mutates source data.
package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/adapter"
	"github.com/contentops/cmconnect/pkg/clients"
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/connector/pool"
	"github.com/contentops/cmconnect/pkg/models"
	"github.com/contentops/cmconnect/pkg/version"
)

// Extractor runs version-agnostic extraction requests against one target
// system. It owns no connection: every request checks a slot out of the
// pool and returns it when done.
type Extractor struct {
	systemID string
	target   adapter.Target
	pool     *pool.Pool
	adapters *adapter.Registry
	detector *version.Detector
	retry    *clients.RetryPolicy
	breaker  *clients.CircuitBreaker
	factory  *models.Factory
	logger   *zap.Logger
}

// New creates an extractor bound to one system's pool and breaker.
func New(cfg *config.ConnectionConfig, p *pool.Pool, adapters *adapter.Registry,
	detector *version.Detector, retry *clients.RetryPolicy, breaker *clients.CircuitBreaker,
	logger *zap.Logger) *Extractor {

	target := adapter.Target{Protocol: core.ProtocolRestAPI}
	if cfg.Type == config.TypeDirectDB {
		target = adapter.Target{Protocol: core.ProtocolDatabase, Dialect: cfg.DirectDB.Dialect}
	}

	return &Extractor{
		systemID: cfg.SystemID,
		target:   target,
		pool:     p,
		adapters: adapters,
		detector: detector,
		retry:    retry,
		breaker:  breaker,
		factory:  models.NewFactory(),
		logger:   logger.With(zap.String("component", "extractor"), zap.String("system_id", cfg.SystemID)),
	}
}

// run acquires a connection, resolves the version adapter, and executes the
// request through the circuit breaker and retry policy. The slot goes back
// to the pool healthy unless the failure was transport-class; a cancelled
// in-flight call returns it unhealthy-pending-check rather than leaking it.
func (e *Extractor) run(ctx context.Context, req core.ExtractionRequest) (*core.RawResult, *adapter.Plan, error) {
	slot, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	var result *core.RawResult
	var plan *adapter.Plan

	err = func() error {
		conn := slot.Connection()

		info, err := e.detector.Detect(ctx, conn)
		if err != nil {
			return err
		}

		a := e.adapters.Resolve(info)
		plan, err = a.BuildQuery(e.target, req)
		if err != nil {
			return err
		}

		return e.breaker.Execute(func() error {
			return e.retry.Execute(ctx, func() error {
				var execErr error
				if plan.Statement != nil {
					result, execErr = conn.Query(ctx, plan.Statement)
				} else {
					result, execErr = conn.Call(ctx, plan.Request)
				}
				return execErr
			})
		})
	}()

	healthy := err == nil || !cmerrors.IsRetryable(err)
	e.pool.Release(ctx, slot, healthy)

	if err != nil {
		return nil, nil, err
	}
	return result, plan, nil
}

func provenance(systemID, extractor string, plan *adapter.Plan) models.Provenance {
	return models.Provenance{
		SourceSystemID: systemID,
		Extractor:      extractor,
		Confidence:     plan.Confidence,
		AbsentFields:   plan.DroppedFields,
	}
}

// System pulls the backend's system configuration as a unified entity.
func (e *Extractor) System(ctx context.Context) (*models.UnifiedSystem, error) {
	result, plan, err := e.run(ctx, core.ExtractionRequest{Entity: core.EntitySystem})
	if err != nil {
		return nil, err
	}

	sys, err := e.factory.System(result, provenance(e.systemID, "system-extractor", plan))
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeExtraction, "failed to normalize system configuration").
			WithSystem(e.systemID)
	}
	return sys, nil
}

// Records pulls records matching the filter.
func (e *Extractor) Records(ctx context.Context, filters []core.Filter, fields []string) ([]*models.UnifiedRecord, error) {
	result, plan, err := e.run(ctx, core.ExtractionRequest{
		Entity:  core.EntityRecord,
		Fields:  fields,
		Filters: filters,
	})
	if err != nil {
		return nil, err
	}

	prov := provenance(e.systemID, "record-extractor", plan)
	records := make([]*models.UnifiedRecord, 0, len(result.Rows))
	for _, row := range result.Rows {
		records = append(records, e.factory.Record(row, prov))
	}
	return records, nil
}

// Documents pulls documents matching the filter.
func (e *Extractor) Documents(ctx context.Context, filters []core.Filter, fields []string) ([]*models.UnifiedDocument, error) {
	result, plan, err := e.run(ctx, core.ExtractionRequest{
		Entity:  core.EntityDocument,
		Fields:  fields,
		Filters: filters,
	})
	if err != nil {
		return nil, err
	}

	prov := provenance(e.systemID, "document-extractor", plan)
	docs := make([]*models.UnifiedDocument, 0, len(result.Rows))
	for _, row := range result.Rows {
		docs = append(docs, e.factory.Document(row, prov))
	}
	return docs, nil
}
