// Package models defines the version-independent entities the connector
// hands to callers, and the factory that normalizes raw extractor output
// into them.
//
// Every entity carries a common envelope with enough provenance (source
// system, extractor identity, extraction time) to be independently
// auditable. Instances are snapshots: once created they are never mutated.
package models

import (
	"time"

	"github.com/contentops/cmconnect/pkg/connector/core"
)

// FieldIssue records a raw field that failed validation and was dropped
// rather than fabricated.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Envelope is the common header of every unified entity.
type Envelope struct {
	ID             string      `json:"id"`
	Kind           core.Entity `json:"kind"`
	SourceSystemID string      `json:"source_system_id"`
	ExtractedAt    time.Time   `json:"extracted_at"`
	Extractor      string      `json:"extractor"`
	// ReducedConfidence marks data produced through the fallback adapter
	ReducedConfidence bool `json:"reduced_confidence,omitempty"`
	// AbsentFields are requested fields the source release does not carry
	AbsentFields []string `json:"absent_fields,omitempty"`
	// FieldIssues are fields dropped during validation
	FieldIssues []FieldIssue `json:"field_issues,omitempty"`
}

// UnifiedSystem is the normalized system configuration of one backend.
type UnifiedSystem struct {
	Envelope
	URI          int64  `json:"uri"`
	SystemName   string `json:"system_name"`
	Version      string `json:"version"`
	Edition      string `json:"edition"`
	DefaultStore string `json:"default_store,omitempty"`
	// Attributes holds source fields with no dedicated column
	Attributes core.Row `json:"attributes,omitempty"`
}

// UnifiedUser is a normalized account of the diagnosed system.
type UnifiedUser struct {
	Envelope
	URI         int64      `json:"uri"`
	LoginName   string     `json:"login_name"`
	FullName    string     `json:"full_name,omitempty"`
	UserType    string     `json:"user_type,omitempty"`
	Active      bool       `json:"active"`
	Email       string     `json:"email,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	Attributes  core.Row   `json:"attributes,omitempty"`
}

// UnifiedRecord is a normalized records-management item.
type UnifiedRecord struct {
	Envelope
	URI          int64      `json:"uri"`
	RecordNumber string     `json:"record_number"`
	Title        string     `json:"title,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	Container    string     `json:"container,omitempty"`
	Disposition  string     `json:"disposition,omitempty"`
	Attributes   core.Row   `json:"attributes,omitempty"`
}

// UnifiedDocument is a normalized stored document.
type UnifiedDocument struct {
	Envelope
	URI         int64    `json:"uri"`
	Title       string   `json:"title,omitempty"`
	Extension   string   `json:"extension,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`
	StoreID     string   `json:"store_id,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
	Attributes  core.Row `json:"attributes,omitempty"`
}
