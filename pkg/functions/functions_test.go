package functions_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/functions"
	"github.com/repairhq/repairstore/pkg/store"
	"github.com/repairhq/repairstore/pkg/store/neonfn"
)

// fakeBackend pairs the in-memory store with a mutex-guarded counter, a
// stand-in for the database-side atomic increment.
type fakeBackend struct {
	*store.MemoryStore

	mu     sync.Mutex
	counts map[string]int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		MemoryStore: store.NewMemoryStore(entity.BackendNeon),
		counts:      make(map[string]int64),
	}
}

func (f *fakeBackend) NextSequence(_ context.Context, sequenceType, periodKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sequenceType + "/" + periodKey
	f.counts[key]++
	return f.counts[key], nil
}

func newTestSetup(t *testing.T) (*fakeBackend, *neonfn.Client) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(functions.NewServer(backend, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return backend, neonfn.New(srv.URL)
}

func TestEntityRoundTrip(t *testing.T) {
	_, client := newTestSetup(t)
	ctx := context.Background()

	created, err := client.Create(ctx, entity.TypeOrder, entity.Record{"device": "iPhone 12", "status": "pending"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID())

	got, err := client.Get(ctx, entity.TypeOrder, created.ID())
	require.NoError(t, err)
	assert.Equal(t, "iPhone 12", got.String("device"))

	updated, err := client.Update(ctx, entity.TypeOrder, created.ID(), entity.Record{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, "completed", updated.String("status"))
	assert.Equal(t, "iPhone 12", updated.String("device"))

	listed, err := client.List(ctx, entity.TypeOrder, "", 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, client.Delete(ctx, entity.TypeOrder, created.ID()))
	_, err = client.Get(ctx, entity.TypeOrder, created.ID())
	assert.True(t, entity.IsNotFound(err))
}

func TestFilterThroughFunctions(t *testing.T) {
	backend, client := newTestSetup(t)
	ctx := context.Background()

	for _, status := range []string{"pending", "done", "done"} {
		_, err := backend.Create(ctx, entity.TypeSale, entity.Record{"status": status})
		require.NoError(t, err)
	}

	done, err := client.Filter(ctx, entity.TypeSale, entity.Filter{"status": "done"}, "", 0)
	require.NoError(t, err)
	assert.Len(t, done, 2)
}

func TestGetMissingRecordIs404Envelope(t *testing.T) {
	_, client := newTestSetup(t)

	_, err := client.Get(context.Background(), entity.TypeCustomer, "nope")
	require.Error(t, err)
	assert.True(t, entity.IsNotFound(err))
}

func TestUnknownFunctionNameFails(t *testing.T) {
	_, client := newTestSetup(t)

	_, err := client.InvokeFunction(context.Background(), "unicornsList", nil)
	require.Error(t, err)
}

func TestGenerateSequenceNumber(t *testing.T) {
	_, client := newTestSetup(t)
	ctx := context.Background()

	payload := map[string]any{"sequence_type": "order", "period_type": "daily"}

	first, err := client.InvokeFunction(ctx, "generateSequenceNumber", payload)
	require.NoError(t, err)
	second, err := client.InvokeFunction(ctx, "generateSequenceNumber", payload)
	require.NoError(t, err)

	assert.Contains(t, string(first), `"number":"WO-`)
	assert.Contains(t, string(first), `-0001"`)
	assert.Contains(t, string(second), `-0002"`)
}

func TestGenerateSequenceNumberPeriodRollover(t *testing.T) {
	backend := newFakeBackend()
	server := functions.NewServer(backend, zerolog.Nop())
	now := time.Date(2025, 1, 16, 23, 50, 0, 0, time.UTC)
	server.SetClock(func() time.Time { return now })
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	client := neonfn.New(srv.URL)

	ctx := context.Background()
	payload := map[string]any{"sequence_type": "order", "period_type": "daily"}

	allocate := func() string {
		t.Helper()
		raw, err := client.InvokeFunction(ctx, "generateSequenceNumber", payload)
		require.NoError(t, err)
		var out struct {
			Number string `json:"number"`
		}
		require.NoError(t, json.Unmarshal(raw, &out))
		return out.Number
	}

	assert.Equal(t, "WO-20250116-0001", allocate())
	assert.Equal(t, "WO-20250116-0002", allocate())

	// Crossing midnight starts a fresh counter under the new period key.
	now = now.Add(time.Hour)
	assert.Equal(t, "WO-20250117-0001", allocate())
	assert.Equal(t, "WO-20250117-0002", allocate())
}

func TestGenerateSequenceNumberRejectsUnknownType(t *testing.T) {
	_, client := newTestSetup(t)

	_, err := client.InvokeFunction(context.Background(), "generateSequenceNumber", map[string]any{
		"sequence_type": "invoice",
	})
	require.Error(t, err)
}

func TestListWithEmptyBody(t *testing.T) {
	backend, client := newTestSetup(t)
	ctx := context.Background()

	_, err := backend.Create(ctx, entity.TypeProduct, entity.Record{"name": "screen"})
	require.NoError(t, err)

	out, err := client.List(ctx, entity.TypeProduct, "", 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
