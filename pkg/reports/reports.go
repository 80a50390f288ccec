// Package reports computes the financial read views the UI polls:
// revenue by payment method, expenses by category, and the KPI rollup.
//
// Every computation reads routed entity data, aggregates in process with
// exact decimal arithmetic, and caches the result. On a backend failure
// the service degrades to a zero-valued report and logs the cause; a
// broken dashboard widget must not take the page down with it.
package reports

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/repairhq/repairstore/pkg/aggcache"
	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store/routing"
)

// RevenueReport breaks sale revenue down by payment method.
type RevenueReport struct {
	From     time.Time                  `json:"from"`
	To       time.Time                  `json:"to"`
	Total    decimal.Decimal            `json:"total"`
	ByMethod map[string]decimal.Decimal `json:"by_method"`
	Degraded bool                       `json:"degraded,omitempty"`
}

// ExpenseReport breaks expenses down by category.
type ExpenseReport struct {
	From       time.Time                  `json:"from"`
	To         time.Time                  `json:"to"`
	Total      decimal.Decimal            `json:"total"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
	Degraded   bool                       `json:"degraded,omitempty"`
}

// KPISummary is the dashboard rollup for a date range, optionally with
// the previous period of equal length for comparison.
type KPISummary struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Revenue    decimal.Decimal `json:"revenue"`
	Expenses   decimal.Decimal `json:"expenses"`
	Profit     decimal.Decimal `json:"profit"`
	SaleCount  int             `json:"sale_count"`
	OrderCount int             `json:"order_count"`
	Previous   *KPISummary     `json:"previous,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
}

// Service computes and caches the reports.
type Service struct {
	router *routing.Router
	cache  *aggcache.Cache
	log    zerolog.Logger
}

// New creates a report service over the routed data layer.
func New(router *routing.Router, cache *aggcache.Cache, log zerolog.Logger) *Service {
	return &Service{router: router, cache: cache, log: log}
}

// inRange reports whether the record was created inside [from, to).
func inRange(rec entity.Record, from, to time.Time) bool {
	created, ok := rec.Time(entity.FieldCreatedDate)
	if !ok {
		return false
	}
	return !created.Before(from) && created.Before(to)
}

// amountOf reads a money field as an exact decimal. Both backends carry
// amounts as JSON numbers.
func amountOf(rec entity.Record, field string) decimal.Decimal {
	f, ok := rec.Float(field)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func (s *Service) fetch(ctx context.Context, t entity.Type, from, to time.Time) ([]entity.Record, error) {
	st, err := s.router.Resolve(t)
	if err != nil {
		return nil, err
	}
	records, err := st.List(ctx, t, entity.FieldCreatedDate, 0)
	if err != nil {
		return nil, err
	}
	// Date-range narrowing happens here rather than in the backends; the
	// uniform filter contract is equality only.
	out := records[:0]
	for _, rec := range records {
		if inRange(rec, from, to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RevenueByMethod sums completed sale totals per payment method inside
// [from, to).
func (s *Service) RevenueByMethod(ctx context.Context, from, to time.Time) *RevenueReport {
	key := aggcache.Key("revenue_by_method", from, to)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*RevenueReport); ok {
			return report
		}
	}

	report := &RevenueReport{
		From:     from,
		To:       to,
		Total:    decimal.Zero,
		ByMethod: map[string]decimal.Decimal{},
	}

	sales, err := s.fetch(ctx, entity.TypeSale, from, to)
	if err != nil {
		s.log.Warn().Err(err).Msg("revenue report degraded, backend unavailable")
		report.Degraded = true
		return report
	}
	for _, sale := range sales {
		method := sale.String("payment_method")
		if method == "" {
			method = "unknown"
		}
		amount := amountOf(sale, "total_amount")
		report.ByMethod[method] = report.ByMethod[method].Add(amount)
		report.Total = report.Total.Add(amount)
	}

	s.cache.Set(key, report)
	return report
}

// ExpensesByCategory sums expense amounts per category inside [from, to).
func (s *Service) ExpensesByCategory(ctx context.Context, from, to time.Time) *ExpenseReport {
	key := aggcache.Key("expenses_by_category", from, to)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*ExpenseReport); ok {
			return report
		}
	}

	report := &ExpenseReport{
		From:       from,
		To:         to,
		Total:      decimal.Zero,
		ByCategory: map[string]decimal.Decimal{},
	}

	expenses, err := s.fetch(ctx, entity.TypeExpense, from, to)
	if err != nil {
		s.log.Warn().Err(err).Msg("expense report degraded, backend unavailable")
		report.Degraded = true
		return report
	}
	for _, expense := range expenses {
		category := expense.String("category")
		if category == "" {
			category = "uncategorized"
		}
		amount := amountOf(expense, "amount")
		report.ByCategory[category] = report.ByCategory[category].Add(amount)
		report.Total = report.Total.Add(amount)
	}

	s.cache.Set(key, report)
	return report
}

// Summary computes the KPI rollup for [from, to). When compare is true
// the result also carries the rollup of the preceding period of equal
// length.
func (s *Service) Summary(ctx context.Context, from, to time.Time, compare bool) *KPISummary {
	key := aggcache.Key("kpi_summary", from, to, compare)
	if cached, ok := s.cache.Get(key); ok {
		if summary, ok := cached.(*KPISummary); ok {
			return summary
		}
	}

	summary := s.summarize(ctx, from, to)
	if compare && !summary.Degraded {
		span := to.Sub(from)
		prev := s.summarize(ctx, from.Add(-span), from)
		summary.Previous = prev
	}

	// A degraded result on either side is a transient answer; caching it
	// would pin the outage for a full TTL.
	if !summary.Degraded && (summary.Previous == nil || !summary.Previous.Degraded) {
		s.cache.Set(key, summary)
	}
	return summary
}

func (s *Service) summarize(ctx context.Context, from, to time.Time) *KPISummary {
	summary := &KPISummary{
		From:     from,
		To:       to,
		Revenue:  decimal.Zero,
		Expenses: decimal.Zero,
		Profit:   decimal.Zero,
	}

	sales, err := s.fetch(ctx, entity.TypeSale, from, to)
	if err != nil {
		s.log.Warn().Err(err).Msg("kpi summary degraded, backend unavailable")
		summary.Degraded = true
		return summary
	}
	for _, sale := range sales {
		summary.Revenue = summary.Revenue.Add(amountOf(sale, "total_amount"))
	}
	summary.SaleCount = len(sales)

	expenses, err := s.fetch(ctx, entity.TypeExpense, from, to)
	if err != nil {
		s.log.Warn().Err(err).Msg("kpi summary degraded, backend unavailable")
		summary.Degraded = true
		return summary
	}
	for _, expense := range expenses {
		summary.Expenses = summary.Expenses.Add(amountOf(expense, "amount"))
	}

	orders, err := s.fetch(ctx, entity.TypeOrder, from, to)
	if err != nil {
		s.log.Warn().Err(err).Msg("kpi summary degraded, backend unavailable")
		summary.Degraded = true
		return summary
	}
	summary.OrderCount = len(orders)

	summary.Profit = summary.Revenue.Sub(summary.Expenses)
	return summary
}
