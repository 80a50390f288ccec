package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// recordingSink captures entries synchronously.
type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Record(_ context.Context, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *recordingSink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestWrapStoreEmitsOnWrites(t *testing.T) {
	sink := &recordingSink{}
	wrapped := WrapStore(store.NewMemoryStore(entity.BackendBase44), sink)
	ctx := context.Background()

	rec, err := wrapped.Create(ctx, entity.TypeOrder, entity.Record{"device": "iPhone"})
	require.NoError(t, err)
	_, err = wrapped.Update(ctx, entity.TypeOrder, rec.ID(), entity.Record{"status": "done"})
	require.NoError(t, err)
	require.NoError(t, wrapped.Delete(ctx, entity.TypeOrder, rec.ID()))

	entries := sink.all()
	require.Len(t, entries, 3)
	assert.Equal(t, "create", entries[0].Action)
	assert.Equal(t, "update", entries[1].Action)
	assert.Equal(t, "delete", entries[2].Action)
	for _, e := range entries {
		assert.Equal(t, entity.TypeOrder, e.EntityType)
		assert.Equal(t, rec.ID(), e.EntityID)
	}

	require.NotNil(t, entries[0].Changes)
	assert.Nil(t, entries[0].Changes.Before)
	assert.Equal(t, "iPhone", entries[0].Changes.After.String("device"))

	require.NotNil(t, entries[1].Changes)
	assert.Empty(t, entries[1].Changes.Before.String("status"))
	assert.Equal(t, "done", entries[1].Changes.After.String("status"))

	require.NotNil(t, entries[2].Changes)
	assert.Equal(t, "done", entries[2].Changes.Before.String("status"))
	assert.Nil(t, entries[2].Changes.After)
}

func TestWrapStoreSilentOnReadsAndFailures(t *testing.T) {
	sink := &recordingSink{}
	wrapped := WrapStore(store.NewMemoryStore(entity.BackendBase44), sink)
	ctx := context.Background()

	_, err := wrapped.List(ctx, entity.TypeOrder, "", 0)
	require.NoError(t, err)
	_, err = wrapped.Update(ctx, entity.TypeOrder, "missing", entity.Record{})
	require.Error(t, err)

	assert.Empty(t, sink.all())
}

func TestWrapStoreSkipsAuditLogEntity(t *testing.T) {
	sink := &recordingSink{}
	wrapped := WrapStore(store.NewMemoryStore(entity.BackendBase44), sink)

	_, err := wrapped.Create(context.Background(), entity.TypeAuditLog, entity.Record{"action": "x"})
	require.NoError(t, err)
	assert.Empty(t, sink.all())
}

func TestStoreSinkPersistsEntries(t *testing.T) {
	target := store.NewMemoryStore(entity.BackendNeon)
	sink := NewStoreSink(target, zerolog.Nop())

	sink.Record(context.Background(), Entry{
		Action:     "create",
		EntityType: entity.TypeSale,
		EntityID:   "s-1",
		Actor:      "till-1",
	})
	sink.Flush()

	logs, err := target.List(context.Background(), entity.TypeAuditLog, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "create", logs[0].String("action"))
	assert.Equal(t, "Sale", logs[0].String("entity_type"))
	assert.Equal(t, string(SeverityInfo), logs[0].String("severity"))
}

// failingStore rejects every write.
type failingStore struct {
	store.Store
}

func (f *failingStore) Create(context.Context, entity.Type, entity.Record) (entity.Record, error) {
	return nil, errors.New("backend down")
}

func TestStoreSinkSwallowsWriteFailures(t *testing.T) {
	sink := NewStoreSink(&failingStore{Store: store.NewMemoryStore(entity.BackendNeon)}, zerolog.Nop())

	// Must not panic or block the caller.
	sink.Record(context.Background(), Entry{Action: "delete", EntityType: entity.TypeOrder, EntityID: "o-1"})
	sink.Flush()
}

func TestStoreSinkDetachedFromCallerContext(t *testing.T) {
	target := store.NewMemoryStore(entity.BackendNeon)
	sink := NewStoreSink(target, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Record(ctx, Entry{Action: "create", EntityType: entity.TypeOrder, EntityID: "o-1"})
	sink.Flush()

	logs, err := target.List(context.Background(), entity.TypeAuditLog, "", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
