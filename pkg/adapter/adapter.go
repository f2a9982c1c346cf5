// Package adapter translates version-agnostic extraction requests into the
// queries and endpoint calls of one concrete release family.
//
// Adapters are selected through a flat registry mapping version ranges to
// implementations. Supporting a new release means adding one binding and one
// schema entry; existing adapters are never modified. The fallback adapter
// serves unknown versions with the broadest compatible queries and marks its
// output as reduced confidence.
package adapter

import (
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/query"
)

// Target identifies the transport the plan must be built for.
type Target struct {
	Protocol core.Protocol
	// Dialect is set for database targets only
	Dialect config.Dialect
}

// Plan is the version-specific translation of one extraction request.
// Exactly one of Statement or Request is set, matching the target protocol.
type Plan struct {
	Statement *core.Statement
	Request   *core.RestRequest
	// DroppedFields are requested fields this release does not carry; they
	// surface to the caller as explicitly absent, never fabricated.
	DroppedFields []string
	// Confidence mirrors the adapter's confidence in its translation
	Confidence core.Confidence
}

// Adapter is the single contract every release variant implements.
type Adapter interface {
	// Release names the release family the adapter serves
	Release() string
	// BuildQuery translates a request for the given target
	BuildQuery(target Target, req core.ExtractionRequest) (*Plan, error)
	// FieldSupported reports whether this release carries the field
	FieldSupported(entity core.Entity, field string) bool
	// Confidence is exact for known releases, reduced for the fallback
	Confidence() core.Confidence
}

// releaseAdapter serves one release family from its schema table. The
// fallback is the same implementation over the lowest-common schema with
// reduced confidence.
type releaseAdapter struct {
	release    string
	schema     releaseSchema
	confidence core.Confidence
	rest       query.RestRequestBuilder
}

// Release implements Adapter
func (a *releaseAdapter) Release() string { return a.release }

// Confidence implements Adapter
func (a *releaseAdapter) Confidence() core.Confidence { return a.confidence }

// FieldSupported implements Adapter
func (a *releaseAdapter) FieldSupported(entity core.Entity, field string) bool {
	es, ok := a.schema[entity]
	if !ok {
		return false
	}
	return es.fields[field]
}

// BuildQuery implements Adapter. Requested fields the release lacks are
// dropped from the query and reported in the plan; filters on unsupported
// fields are rejected outright since they would silently change results.
func (a *releaseAdapter) BuildQuery(target Target, req core.ExtractionRequest) (*Plan, error) {
	es, ok := a.schema[req.Entity]
	if !ok {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeVersionMismatch,
			"entity %q is not available in release %s", req.Entity, a.release)
	}

	kept := make([]string, 0, len(req.Fields))
	var dropped []string
	for _, f := range req.Fields {
		if es.fields[f] {
			kept = append(kept, f)
		} else {
			dropped = append(dropped, f)
		}
	}
	if len(req.Fields) > 0 && len(kept) == 0 {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeVersionMismatch,
			"none of the requested fields exist in release %s", a.release)
	}

	for _, f := range req.Filters {
		if !es.fields[f.Field] {
			return nil, cmerrors.Newf(cmerrors.ErrorTypeVersionMismatch,
				"cannot filter on %q: field does not exist in release %s", f.Field, a.release).
				WithDetail("field", f.Field)
		}
	}
	if req.SortBy != "" && !es.fields[req.SortBy] {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeVersionMismatch,
			"cannot sort by %q: field does not exist in release %s", req.SortBy, a.release)
	}

	narrowed := req
	narrowed.Fields = kept

	plan := &Plan{
		DroppedFields: dropped,
		Confidence:    a.confidence,
	}

	switch target.Protocol {
	case core.ProtocolDatabase:
		builder, err := query.NewBuilder(target.Dialect)
		if err != nil {
			return nil, err
		}
		stmt, err := builder.Select(es.table, narrowed)
		if err != nil {
			return nil, err
		}
		plan.Statement = stmt

	case core.ProtocolRestAPI:
		if es.endpoint == "" {
			return nil, cmerrors.Newf(cmerrors.ErrorTypeVersionMismatch,
				"release %s does not expose entity %q over the REST API", a.release, req.Entity)
		}
		restReq, err := a.rest.List(es.endpoint, narrowed)
		if err != nil {
			return nil, err
		}
		plan.Request = restReq

	default:
		return nil, cmerrors.Newf(cmerrors.ErrorTypeValidation, "unknown protocol %q", target.Protocol)
	}

	return plan, nil
}
