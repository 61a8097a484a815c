package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/songzhibin97/gkit/generator"

	"github.com/emanuelegissi/flowbuttons/types"
)

// MemoryStore is an in-memory implementation of the Store and Batcher interfaces.
type MemoryStore struct {
	tables map[string]*table
	gen    generator.Generator
	mu     sync.RWMutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithGenerator makes the store allocate row ids from gen instead of per-table counters.
func WithGenerator(gen generator.Generator) MemoryOption {
	return func(s *MemoryStore) {
		s.gen = gen
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tables: make(map[string]*table),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListTables returns the table ids in lexical order.
func (s *MemoryStore) ListTables(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := make([]string, 0, len(s.tables))
		for id := range s.tables {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	})
}

// FetchTable returns a snapshot of a table.
func (s *MemoryStore) FetchTable(ctx context.Context, tableID string) (types.TableData, error) {
	return withContext(ctx, func() (types.TableData, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		t, ok := s.tables[tableID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
		}
		return t.data(), nil
	})
}

// FetchRecord returns a copy of one row.
func (s *MemoryStore) FetchRecord(ctx context.Context, tableID string, rowID int64) (types.Record, error) {
	return withContext(ctx, func() (types.Record, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		t, ok := s.tables[tableID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
		}
		rec, ok := t.record(rowID)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, tableID, rowID)
		}
		return rec, nil
	})
}

// CreateRecord adds a row.
func (s *MemoryStore) CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (int64, error) {
	return createRecord(ctx, s, tableID, fields)
}

// ApplyBulkUpdate sets per-row values.
func (s *MemoryStore) ApplyBulkUpdate(ctx context.Context, tableID string, rowIDs []int64, columns map[string][]interface{}) error {
	return bulkUpdate(ctx, s, tableID, rowIDs, columns)
}

// DestroyRecords deletes rows.
func (s *MemoryStore) DestroyRecords(ctx context.Context, tableID string, rowIDs []int64) error {
	return destroyRecords(ctx, s, tableID, rowIDs)
}

// ApplyUserActions applies the batch to copies of the touched tables and swaps them in
// only when every action succeeded.
func (s *MemoryStore) ApplyUserActions(ctx context.Context, actions []types.UserAction) ([]interface{}, error) {
	return withContext(ctx, func() ([]interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		b := newBatch(func(tableID string) (*table, error) {
			t, ok := s.tables[tableID]
			if !ok {
				return nil, nil
			}
			return t.clone(), nil
		})
		if s.gen != nil {
			b.nextID = func(_ string, _ *table) (int64, error) {
				id, err := s.gen.NextID()
				if err != nil {
					return 0, err
				}
				if id > math.MaxInt64 {
					return 0, fmt.Errorf("generated id %d overflows int64", id)
				}
				return int64(id), nil
			}
		}

		results, err := b.apply(actions)
		if err != nil {
			return nil, err
		}
		for id, t := range b.tables {
			s.tables[id] = t
		}
		return results, nil
	})
}
