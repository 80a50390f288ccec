// Package client is the application-facing surface of the data layer. It
// assembles the backend adapters, the router, the sequence allocator,
// the aggregate cache, and the audit sink into one handle, and exposes
// entity access that always goes through routing.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/repairhq/repairstore/pkg/aggcache"
	"github.com/repairhq/repairstore/pkg/audit"
	"github.com/repairhq/repairstore/pkg/config"
	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/migrate"
	"github.com/repairhq/repairstore/pkg/reports"
	"github.com/repairhq/repairstore/pkg/seq"
	"github.com/repairhq/repairstore/pkg/store"
	"github.com/repairhq/repairstore/pkg/store/base44"
	"github.com/repairhq/repairstore/pkg/store/neonfn"
	"github.com/repairhq/repairstore/pkg/store/routing"
)

// Integrator is the optional LLM-style integration surface of the legacy
// platform.
type Integrator interface {
	InvokeIntegration(ctx context.Context, prompt string) (string, error)
}

// Client is the single entry point the application holds.
type Client struct {
	router     *routing.Router
	cache      *aggcache.Cache
	allocator  *seq.Allocator
	sink       audit.Sink
	invoker    seq.Invoker
	integrator Integrator
	engine     *migrate.Engine
	reports    *reports.Service
	log        zerolog.Logger
}

// Options carries the assembled collaborators. Tests construct these
// directly; production uses FromConfig.
type Options struct {
	Legacy     store.Store
	Next       store.Store
	Mode       routing.Mode
	Migrated   []entity.Type
	Cache      *aggcache.Cache
	Invoker    seq.Invoker
	Integrator Integrator
	Sink       audit.Sink
	Log        zerolog.Logger
}

// New wires a client from pre-built collaborators.
func New(opts Options) (*Client, error) {
	if opts.Cache == nil {
		opts.Cache = aggcache.New(aggcache.DefaultTTL)
	}
	if opts.Sink == nil {
		opts.Sink = audit.NopSink{}
	}

	legacy := audit.WrapStore(opts.Legacy, opts.Sink)
	var next store.Store
	if opts.Next != nil {
		next = audit.WrapStore(opts.Next, opts.Sink)
	}
	router, err := routing.New(legacy, next, opts.Mode, opts.Migrated)
	if err != nil {
		return nil, err
	}

	c := &Client{
		router:     router,
		cache:      opts.Cache,
		sink:       opts.Sink,
		invoker:    opts.Invoker,
		integrator: opts.Integrator,
		log:        opts.Log,
	}
	// Built even without an invoker: orders and sales must always get an
	// identifier, and the allocator's fallback covers the unconfigured
	// counter service the same way it covers an unreachable one.
	c.allocator = seq.NewAllocator(opts.Invoker, opts.Log)
	c.engine = migrate.New(router.Legacy(), router.Next(), opts.Log)
	c.reports = reports.New(router, opts.Cache, opts.Log)
	return c, nil
}

// FromConfig builds the production client: a hosted-platform adapter, a
// serverless-function adapter when configured, and an audit sink writing
// through whichever backend is the default.
func FromConfig(cfg *config.Config, log zerolog.Logger) (*Client, error) {
	legacy := base44.New(cfg.Base44.BaseURL, cfg.Base44.AppID, cfg.Base44.APIKey)

	var (
		next    store.Store
		invoker seq.Invoker
	)
	if cfg.Neon.FunctionsURL != "" {
		fn := neonfn.New(cfg.Neon.FunctionsURL)
		next = fn
		invoker = fn
	}

	migrated, err := cfg.Migrated()
	if err != nil {
		return nil, err
	}

	var auditTarget store.Store = legacy
	if cfg.DefaultBackend == entity.BackendNeon && next != nil {
		auditTarget = next
	}

	return New(Options{
		Legacy:     legacy,
		Next:       next,
		Mode:       cfg.RoutingMode(),
		Migrated:   migrated,
		Cache:      aggcache.New(cfg.CacheTTL),
		Invoker:    invoker,
		Integrator: legacy,
		Sink:       audit.NewStoreSink(auditTarget, log),
		Log:        log,
	})
}

// Router exposes the routing layer for diagnostics.
func (c *Client) Router() *routing.Router { return c.router }

// Cache exposes the aggregate cache.
func (c *Client) Cache() *aggcache.Cache { return c.cache }

// Reports exposes the aggregate report service.
func (c *Client) Reports() *reports.Service { return c.reports }

// bestEffort runs fn and logs any failure instead of returning it.
// Decorative work (cache invalidation bookkeeping, notifications) runs
// under it so a failure there never fails the business operation.
func bestEffort(log zerolog.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("op", op).Msg("best-effort operation failed")
	}
}

// Entity returns an operation handle bound to one entity type.
func (c *Client) Entity(t entity.Type) *EntityHandle {
	return &EntityHandle{client: c, entityType: t}
}

// EntityHandle performs the uniform operations for one entity type,
// routed to whichever backend currently serves it.
type EntityHandle struct {
	client     *Client
	entityType entity.Type
}

func (h *EntityHandle) resolve() (store.Store, error) {
	return h.client.router.Resolve(h.entityType)
}

func (h *EntityHandle) List(ctx context.Context, sort string, limit int) ([]entity.Record, error) {
	st, err := h.resolve()
	if err != nil {
		return nil, err
	}
	return st.List(ctx, h.entityType, sort, limit)
}

func (h *EntityHandle) Filter(ctx context.Context, where entity.Filter, sort string, limit int) ([]entity.Record, error) {
	st, err := h.resolve()
	if err != nil {
		return nil, err
	}
	return st.Filter(ctx, h.entityType, where, sort, limit)
}

func (h *EntityHandle) Get(ctx context.Context, id string) (entity.Record, error) {
	st, err := h.resolve()
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, h.entityType, id)
}

// Create persists a new record. Orders and sales that arrive without a
// sequence number get one allocated first; the allocator's fallback
// guarantees this never blocks the create.
func (h *EntityHandle) Create(ctx context.Context, data entity.Record) (entity.Record, error) {
	st, err := h.resolve()
	if err != nil {
		return nil, err
	}
	data = h.withSequenceNumber(ctx, data)
	rec, err := st.Create(ctx, h.entityType, data)
	if err != nil {
		return nil, err
	}
	h.client.cache.InvalidateAll()
	return rec, nil
}

func (h *EntityHandle) Update(ctx context.Context, id string, partial entity.Record) (entity.Record, error) {
	st, err := h.resolve()
	if err != nil {
		return nil, err
	}
	rec, err := st.Update(ctx, h.entityType, id, partial)
	if err != nil {
		return nil, err
	}
	h.client.cache.InvalidateAll()
	return rec, nil
}

func (h *EntityHandle) Delete(ctx context.Context, id string) error {
	st, err := h.resolve()
	if err != nil {
		return err
	}
	if err := st.Delete(ctx, h.entityType, id); err != nil {
		return err
	}
	h.client.cache.InvalidateAll()
	return nil
}

// withSequenceNumber fills in the order or sale number when the caller
// did not supply one and an allocator is available.
func (h *EntityHandle) withSequenceNumber(ctx context.Context, data entity.Record) entity.Record {
	var (
		field string
		st    seq.SequenceType
	)
	switch h.entityType {
	case entity.TypeOrder:
		field, st = "order_number", seq.SequenceOrder
	case entity.TypeSale:
		field, st = "sale_number", seq.SequenceSale
	default:
		return data
	}
	if data.String(field) != "" {
		return data
	}
	number := h.client.allocator.Allocate(ctx, st, seq.PeriodDaily)
	h.client.sink.Record(ctx, audit.Entry{
		Action:     "sequence_issued",
		EntityType: h.entityType,
		Details: map[string]any{
			"sequence_type": string(st),
			"number":        number,
			"canonical":     seq.IsCanonical(number),
		},
	})
	out := data.Clone()
	out[field] = number
	return out
}

// InvokeFunction calls a serverless function directly.
func (c *Client) InvokeFunction(ctx context.Context, name string, payload map[string]any) (json.RawMessage, error) {
	if c.invoker == nil {
		return nil, &entity.ConfigurationError{Reason: "serverless functions are not configured"}
	}
	return c.invoker.InvokeFunction(ctx, name, payload)
}

// InvokeIntegration calls the legacy platform's integration endpoint.
func (c *Client) InvokeIntegration(ctx context.Context, prompt string) (string, error) {
	if c.integrator == nil {
		return "", &entity.ConfigurationError{Reason: "integration endpoint is not configured"}
	}
	return c.integrator.InvokeIntegration(ctx, prompt)
}

// MigrateEntity copies one entity type from the legacy backend into the
// new one and invalidates cached aggregates.
func (c *Client) MigrateEntity(ctx context.Context, t entity.Type, batchSize int) (*migrate.Report, error) {
	if c.router.Next() == nil {
		return nil, &entity.ConfigurationError{Reason: "migration requires the new backend to be configured"}
	}
	report, err := c.engine.MigrateEntity(ctx, t, batchSize)
	if err != nil {
		return nil, err
	}
	bestEffort(c.log, "invalidate cache after migration", func() error {
		c.cache.InvalidateAll()
		return nil
	})
	return report, nil
}

// MigrateAll copies every business entity type.
func (c *Client) MigrateAll(ctx context.Context, batchSize int) ([]*migrate.Report, error) {
	if c.router.Next() == nil {
		return nil, &entity.ConfigurationError{Reason: "migration requires the new backend to be configured"}
	}
	out, err := c.engine.MigrateAll(ctx, batchSize)
	c.cache.InvalidateAll()
	return out, err
}

// ValidateSync compares record counts for one entity type across both
// backends.
func (c *Client) ValidateSync(ctx context.Context, t entity.Type) (*migrate.SyncStatus, error) {
	if c.router.Next() == nil {
		return nil, &entity.ConfigurationError{Reason: "sync validation requires the new backend to be configured"}
	}
	if !t.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	return c.engine.ValidateSync(ctx, t)
}
