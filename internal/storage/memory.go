package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// MemoryStore keeps records in memory, keyed by entity. It backs tests
// and single-process deployments; predicates are evaluated row by row.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]types.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]types.Record)}
}

// Put appends a record under the entity.
func (s *MemoryStore) Put(entity string, record types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entity] = append(s.records[entity], record)
}

func (s *MemoryStore) Search(_ context.Context, entity string, pred *filter.Predicate) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Record
	for _, r := range s.records[entity] {
		if pred.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, entity string, key any) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records[entity] {
		if fmt.Sprint(r.Key()) == fmt.Sprint(key) {
			return r, nil
		}
	}
	return nil, ErrNotFound
}
