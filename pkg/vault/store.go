package vault

import (
	"sync"

	"github.com/contentops/cmconnect/pkg/cmerrors"
)

// Store maps credential refs to encrypted records. It is the only persisted
// credential state in the connector; it never holds plaintext.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Put stores the encrypted record under the given ref, replacing any
// previous record.
func (s *Store) Put(ref string, record *Record) error {
	if ref == "" {
		return cmerrors.New(cmerrors.ErrorTypeValidation, "credential ref is required")
	}
	if record == nil {
		return cmerrors.New(cmerrors.ErrorTypeValidation, "credential record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ref] = record
	return nil
}

// Get returns the record for a ref. Errors reference the ref only, never
// credential content.
func (s *Store) Get(ref string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[ref]
	if !ok {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeConfig, "credential %q not found", ref)
	}
	return record, nil
}

// Delete removes a record.
func (s *Store) Delete(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ref)
}
