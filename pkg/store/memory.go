package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repairhq/repairstore/pkg/entity"
)

// MemoryStore is an in-memory Store used as a test double and as the
// seed target in migration tests. It honors the full contract including
// server-assigned ids and timestamps.
type MemoryStore struct {
	backend entity.Backend

	mu      sync.RWMutex
	records map[entity.Type]map[string]entity.Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store reporting the given
// backend name.
func NewMemoryStore(backend entity.Backend) *MemoryStore {
	return &MemoryStore{
		backend: backend,
		records: make(map[entity.Type]map[string]entity.Record),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Backend() entity.Backend { return s.backend }

func (s *MemoryStore) List(ctx context.Context, t entity.Type, sortSpec string, limit int) ([]entity.Record, error) {
	return s.Filter(ctx, t, nil, sortSpec, limit)
}

func (s *MemoryStore) Filter(ctx context.Context, t entity.Type, where entity.Filter, sortSpec string, limit int) ([]entity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Record, 0)
	for _, rec := range s.records[t] {
		if where == nil || where.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out, sortSpec)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, t entity.Type, id string) (entity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[t][id]
	if !ok {
		return nil, &entity.NotFoundError{Type: t, ID: id}
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := data.Clone()
	if rec.ID() == "" {
		rec[entity.FieldID] = uuid.NewString()
	}
	now := s.now().UTC().Format(time.RFC3339)
	rec[entity.FieldCreatedDate] = now
	rec[entity.FieldUpdatedDate] = now

	if s.records[t] == nil {
		s.records[t] = make(map[string]entity.Record)
	}
	s.records[t][rec.ID()] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[t][id]
	if !ok {
		return nil, &entity.NotFoundError{Type: t, ID: id}
	}
	rec := existing.Merge(partial)
	rec[entity.FieldID] = id
	rec[entity.FieldUpdatedDate] = s.now().UTC().Format(time.RFC3339)
	s.records[t][id] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, t entity.Type, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[t][id]; !ok {
		return &entity.NotFoundError{Type: t, ID: id}
	}
	delete(s.records[t], id)
	return nil
}

func sortRecords(recs []entity.Record, sortSpec string) {
	if sortSpec == "" {
		sortSpec = entity.FieldCreatedDate
	}
	field, desc := ParseSort(sortSpec)
	sort.SliceStable(recs, func(i, j int) bool {
		less := recordLess(recs[i], recs[j], field)
		if desc {
			return !less
		}
		return less
	})
}

func recordLess(a, b entity.Record, field string) bool {
	if af, aok := a.Float(field); aok {
		if bf, bok := b.Float(field); bok {
			return af < bf
		}
	}
	return a.String(field) < b.String(field)
}
