package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/repairstore/pkg/aggcache"
	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
	"github.com/repairhq/repairstore/pkg/store/routing"
)

var (
	rangeFrom = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeTo   = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	legacy := store.NewMemoryStore(entity.BackendBase44)
	router, err := routing.New(legacy, nil, routing.ModeLegacyDefault, nil)
	require.NoError(t, err)
	return New(router, aggcache.New(time.Minute), zerolog.Nop()), legacy
}

func seed(t *testing.T, s *store.MemoryStore, typ entity.Type, created time.Time, fields entity.Record) {
	t.Helper()
	s.SetClock(func() time.Time { return created })
	_, err := s.Create(context.Background(), typ, fields)
	require.NoError(t, err)
}

func TestRevenueByMethod(t *testing.T) {
	svc, legacy := newService(t)
	in := rangeFrom.Add(24 * time.Hour)

	seed(t, legacy, entity.TypeSale, in, entity.Record{"payment_method": "cash", "total_amount": 10.5})
	seed(t, legacy, entity.TypeSale, in, entity.Record{"payment_method": "cash", "total_amount": 4.5})
	seed(t, legacy, entity.TypeSale, in, entity.Record{"payment_method": "card", "total_amount": 20.0})
	seed(t, legacy, entity.TypeSale, rangeTo.Add(time.Hour), entity.Record{"payment_method": "cash", "total_amount": 99.0})

	report := svc.RevenueByMethod(context.Background(), rangeFrom, rangeTo)
	require.False(t, report.Degraded)
	assert.True(t, report.Total.Equal(decimal.NewFromFloat(35.0)), "total %s", report.Total)
	assert.True(t, report.ByMethod["cash"].Equal(decimal.NewFromFloat(15.0)))
	assert.True(t, report.ByMethod["card"].Equal(decimal.NewFromFloat(20.0)))
}

func TestExpensesByCategory(t *testing.T) {
	svc, legacy := newService(t)
	in := rangeFrom.Add(48 * time.Hour)

	seed(t, legacy, entity.TypeExpense, in, entity.Record{"category": "parts", "amount": 120.0})
	seed(t, legacy, entity.TypeExpense, in, entity.Record{"category": "rent", "amount": 800.0})
	seed(t, legacy, entity.TypeExpense, in, entity.Record{"amount": 5.0})

	report := svc.ExpensesByCategory(context.Background(), rangeFrom, rangeTo)
	require.False(t, report.Degraded)
	assert.True(t, report.Total.Equal(decimal.NewFromFloat(925.0)))
	assert.True(t, report.ByCategory["uncategorized"].Equal(decimal.NewFromFloat(5.0)))
}

func TestSummaryWithComparison(t *testing.T) {
	svc, legacy := newService(t)
	in := rangeFrom.Add(24 * time.Hour)
	prev := rangeFrom.Add(-24 * time.Hour)

	seed(t, legacy, entity.TypeSale, in, entity.Record{"total_amount": 100.0})
	seed(t, legacy, entity.TypeExpense, in, entity.Record{"amount": 30.0})
	seed(t, legacy, entity.TypeOrder, in, entity.Record{"device": "iPhone"})
	seed(t, legacy, entity.TypeSale, prev, entity.Record{"total_amount": 40.0})

	summary := svc.Summary(context.Background(), rangeFrom, rangeTo, true)
	require.False(t, summary.Degraded)
	assert.True(t, summary.Revenue.Equal(decimal.NewFromFloat(100.0)))
	assert.True(t, summary.Profit.Equal(decimal.NewFromFloat(70.0)))
	assert.Equal(t, 1, summary.SaleCount)
	assert.Equal(t, 1, summary.OrderCount)

	require.NotNil(t, summary.Previous)
	assert.True(t, summary.Previous.Revenue.Equal(decimal.NewFromFloat(40.0)))
	assert.Nil(t, summary.Previous.Previous)
}

func TestReportsAreCached(t *testing.T) {
	svc, legacy := newService(t)
	in := rangeFrom.Add(time.Hour)
	seed(t, legacy, entity.TypeSale, in, entity.Record{"total_amount": 10.0})

	first := svc.RevenueByMethod(context.Background(), rangeFrom, rangeTo)
	seed(t, legacy, entity.TypeSale, in, entity.Record{"total_amount": 90.0})
	second := svc.RevenueByMethod(context.Background(), rangeFrom, rangeTo)

	assert.True(t, first.Total.Equal(second.Total), "second read served from cache")
}

// downStore fails every read.
type downStore struct {
	store.Store
}

func (downStore) List(context.Context, entity.Type, string, int) ([]entity.Record, error) {
	return nil, errors.New("backend unreachable")
}

func TestDegradedReportOnBackendFailure(t *testing.T) {
	router, err := routing.New(downStore{}, nil, routing.ModeLegacyDefault, nil)
	require.NoError(t, err)
	svc := New(router, aggcache.New(time.Minute), zerolog.Nop())

	report := svc.RevenueByMethod(context.Background(), rangeFrom, rangeTo)
	assert.True(t, report.Degraded)
	assert.True(t, report.Total.IsZero())

	summary := svc.Summary(context.Background(), rangeFrom, rangeTo, true)
	assert.True(t, summary.Degraded)
	assert.Nil(t, summary.Previous)
}

// failAfterStore serves a fixed number of List calls, then fails.
type failAfterStore struct {
	store.Store
	remaining int
}

func (f *failAfterStore) List(ctx context.Context, typ entity.Type, sort string, limit int) ([]entity.Record, error) {
	if f.remaining <= 0 {
		return nil, errors.New("backend unreachable")
	}
	f.remaining--
	return f.Store.List(ctx, typ, sort, limit)
}

func TestSummaryWithDegradedPreviousIsNotCached(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)
	seed(t, legacy, entity.TypeSale, rangeFrom.Add(time.Hour), entity.Record{"total_amount": 100.0})

	// The current period's three reads succeed; the previous period's
	// first read fails.
	cache := aggcache.New(time.Minute)
	router, err := routing.New(&failAfterStore{Store: legacy, remaining: 3}, nil, routing.ModeLegacyDefault, nil)
	require.NoError(t, err)
	svc := New(router, cache, zerolog.Nop())

	summary := svc.Summary(context.Background(), rangeFrom, rangeTo, true)
	require.False(t, summary.Degraded)
	require.NotNil(t, summary.Previous)
	assert.True(t, summary.Previous.Degraded)
	assert.Zero(t, cache.Len(), "a summary with a degraded side must not be cached")
}

func TestDegradedReportIsNotCached(t *testing.T) {
	cache := aggcache.New(time.Minute)
	router, err := routing.New(downStore{}, nil, routing.ModeLegacyDefault, nil)
	require.NoError(t, err)
	svc := New(router, cache, zerolog.Nop())

	svc.Summary(context.Background(), rangeFrom, rangeTo, false)
	assert.Zero(t, cache.Len())
}
