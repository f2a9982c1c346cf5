// Package core defines the version-agnostic contract between the connector's
// components: the Connection capability interface, extraction requests, raw
// results, and detected version metadata. It has no dependencies on any
// concrete protocol implementation.
package core

import (
	"context"
	"net/url"
	"time"
)

// Protocol identifies the transport variant of a connection.
type Protocol string

const (
	ProtocolDatabase Protocol = "database"
	ProtocolRestAPI  Protocol = "rest_api"
)

// Connection is a single live link to one backend instance. Implementations
// are selected by protocol kind; there is no shared base state between
// variants.
type Connection interface {
	// ID uniquely identifies this connection instance
	ID() string
	// SystemID identifies the target system the connection belongs to
	SystemID() string
	// Protocol reports the transport variant
	Protocol() Protocol

	// Open establishes the backend session, authenticating with the vault
	// credential. Opening an already-open connection is an error.
	Open(ctx context.Context) error
	// Close tears down the session. Closing twice is harmless.
	Close(ctx context.Context) error
	// Ping is a lightweight liveness probe
	Ping(ctx context.Context) error

	// Query executes a parameterized SQL statement. Only database
	// connections support it.
	Query(ctx context.Context, stmt *Statement) (*RawResult, error)
	// Call executes a structured REST request. Only API connections
	// support it.
	Call(ctx context.Context, req *RestRequest) (*RawResult, error)

	// Version returns the detected version info, or nil before detection.
	// Written once per connection; an explicit reconnect clears it.
	Version() *VersionInfo
	// BindVersion caches the detected version on the connection
	BindVersion(info *VersionInfo)
}

// Statement is a parameterized SQL statement plus its bound arguments. It is
// never a fully interpolated string.
type Statement struct {
	SQL  string
	Args []interface{}
}

// RestRequest is a structured REST API call.
type RestRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

// Row is one raw record keyed by column or attribute name.
type Row map[string]interface{}

// RawResult is the untyped output of a query or API call.
type RawResult struct {
	Columns []string
	Rows    []Row
	Elapsed time.Duration
}

// Entity names an extractable resource class.
type Entity string

const (
	EntitySystem   Entity = "system"
	EntityUser     Entity = "user"
	EntityRecord   Entity = "record"
	EntityDocument Entity = "document"
)

// FilterOp is a comparison operator in an extraction filter.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpGt   FilterOp = "gt"
	OpLt   FilterOp = "lt"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

// Filter constrains an extraction to rows matching a field comparison.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// ExtractionRequest is a version-agnostic description of the data to pull.
// Version adapters translate it into dialect-specific queries or endpoint
// calls.
type ExtractionRequest struct {
	Entity  Entity
	Fields  []string
	Filters []Filter
	SortBy  string
	Offset  int
	Limit   int
}

// FeatureSet is the set of capabilities a detected release supports.
type FeatureSet map[string]bool

// Has reports whether a feature flag is present and enabled.
func (f FeatureSet) Has(name string) bool {
	return f[name]
}

// Confidence qualifies how the version (and data derived through its
// adapter) was determined.
type Confidence string

const (
	// ConfidenceExact means a signature probe matched a known release
	ConfidenceExact Confidence = "exact"
	// ConfidenceReduced means the fallback adapter is in use
	ConfidenceReduced Confidence = "reduced"
)

// VersionInfo is the detected release identity of a backend. Computed once
// per connection's first use and treated as immutable; invalidated only by an
// explicit reconnect.
type VersionInfo struct {
	Version    string     `json:"version"`
	Edition    string     `json:"edition"`
	Features   FeatureSet `json:"features"`
	Confidence Confidence `json:"confidence"`
	DetectedAt time.Time  `json:"detected_at"`
}

// HealthStatus reports the outcome of a connector health check.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// PoolMetrics is a snapshot of a connection pool's occupancy.
type PoolMetrics struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Pending   int `json:"pending"`
}
