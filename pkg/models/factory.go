package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Provenance describes where a batch of raw rows came from. The factory
// stamps it into every produced envelope.
type Provenance struct {
	SourceSystemID string
	Extractor      string
	Confidence     core.Confidence
	// AbsentFields are requested fields the source release does not carry,
	// reported by the version adapter
	AbsentFields []string
}

// Factory normalizes raw extractor output into unified entities. It is a
// pure transformation: fields failing validation are dropped and flagged,
// never replaced with fabricated values.
type Factory struct{}

// NewFactory creates a model factory.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) envelope(kind core.Entity, prov Provenance, issues []FieldIssue) Envelope {
	return Envelope{
		ID:                uuid.NewString(),
		Kind:              kind,
		SourceSystemID:    prov.SourceSystemID,
		ExtractedAt:       time.Now().UTC(),
		Extractor:         prov.Extractor,
		ReducedConfidence: prov.Confidence == core.ConfidenceReduced,
		AbsentFields:      prov.AbsentFields,
		FieldIssues:       issues,
	}
}

// System builds a UnifiedSystem from the first raw row.
func (f *Factory) System(result *core.RawResult, prov Provenance) (*UnifiedSystem, error) {
	if result == nil || len(result.Rows) == 0 {
		return nil, fmt.Errorf("system extraction returned no rows")
	}

	row := result.Rows[0]
	v := newValidator(row)

	sys := &UnifiedSystem{
		URI:          v.int64("uri"),
		SystemName:   v.string("systemName"),
		Version:      v.string("dbMajorVersion"),
		Edition:      v.string("edition"),
		DefaultStore: v.string("defaultStore"),
		Attributes:   v.rest(),
	}
	sys.Envelope = f.envelope(core.EntitySystem, prov, v.issues)
	return sys, nil
}

// User builds a UnifiedUser from one raw row.
func (f *Factory) User(row core.Row, prov Provenance) *UnifiedUser {
	v := newValidator(row)

	u := &UnifiedUser{
		URI:         v.int64("uri"),
		LoginName:   v.string("loginName"),
		FullName:    v.string("fullName"),
		UserType:    v.string("userType"),
		Active:      v.bool("active"),
		Email:       v.string("email"),
		LastLoginAt: v.time("lastLoginDate"),
		Attributes:  v.rest(),
	}
	u.Envelope = f.envelope(core.EntityUser, prov, v.issues)
	return u
}

// Record builds a UnifiedRecord from one raw row.
func (f *Factory) Record(row core.Row, prov Provenance) *UnifiedRecord {
	v := newValidator(row)

	r := &UnifiedRecord{
		URI:          v.int64("uri"),
		RecordNumber: v.string("recordNumber"),
		Title:        v.string("title"),
		CreatedAt:    v.time("createdDate"),
		Container:    v.string("container"),
		Disposition:  v.string("disposition"),
		Attributes:   v.rest(),
	}
	r.Envelope = f.envelope(core.EntityRecord, prov, v.issues)
	return r
}

// Document builds a UnifiedDocument from one raw row.
func (f *Factory) Document(row core.Row, prov Provenance) *UnifiedDocument {
	v := newValidator(row)

	d := &UnifiedDocument{
		URI:         v.int64("uri"),
		Title:       v.string("title"),
		Extension:   v.string("extension"),
		SizeBytes:   v.int64("sizeBytes"),
		StoreID:     v.string("storeId"),
		ContentHash: v.string("contentHash"),
		Attributes:  v.rest(),
	}
	d.Envelope = f.envelope(core.EntityDocument, prov, v.issues)
	return d
}

// validator consumes known fields from a raw row, recording issues for
// values of the wrong shape and collecting leftovers into Attributes.
type validator struct {
	row    core.Row
	taken  map[string]bool
	issues []FieldIssue
}

func newValidator(row core.Row) *validator {
	return &validator{row: row, taken: make(map[string]bool)}
}

func (v *validator) flag(field, reason string) {
	v.issues = append(v.issues, FieldIssue{Field: field, Reason: reason})
}

func (v *validator) string(field string) string {
	raw, ok := v.row[field]
	if !ok || raw == nil {
		return ""
	}
	v.taken[field] = true

	switch t := raw.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64, int, int32, int64:
		return fmt.Sprintf("%v", t)
	default:
		v.flag(field, fmt.Sprintf("expected string, got %T", raw))
		return ""
	}
}

func (v *validator) int64(field string) int64 {
	raw, ok := v.row[field]
	if !ok || raw == nil {
		return 0
	}
	v.taken[field] = true

	switch t := raw.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			v.flag(field, "expected integer, got non-numeric string")
			return 0
		}
		return n
	default:
		v.flag(field, fmt.Sprintf("expected integer, got %T", raw))
		return 0
	}
}

func (v *validator) bool(field string) bool {
	raw, ok := v.row[field]
	if !ok || raw == nil {
		return false
	}
	v.taken[field] = true

	switch t := raw.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			v.flag(field, "expected boolean")
			return false
		}
		return b
	default:
		v.flag(field, fmt.Sprintf("expected boolean, got %T", raw))
		return false
	}
}

func (v *validator) time(field string) *time.Time {
	raw, ok := v.row[field]
	if !ok || raw == nil {
		return nil
	}
	v.taken[field] = true

	switch t := raw.(type) {
	case time.Time:
		return &t
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
		v.flag(field, "unparseable timestamp")
		return nil
	default:
		v.flag(field, fmt.Sprintf("expected timestamp, got %T", raw))
		return nil
	}
}

// rest returns every field not consumed by a typed accessor.
func (v *validator) rest() core.Row {
	var extra core.Row
	for k, val := range v.row {
		if v.taken[k] {
			continue
		}
		if extra == nil {
			extra = make(core.Row)
		}
		extra[k] = val
	}
	return extra
}
