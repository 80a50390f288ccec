// Package audit records who changed what in the shop's data. Audit
// writes are strictly best effort: a failure to record an entry is
// logged and swallowed, never surfaced to the business operation that
// triggered it.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// Severity classifies an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Changes captures the record state around a mutation. Either side may
// be nil: creates have no before, deletes no after.
type Changes struct {
	Before entity.Record `json:"before,omitempty"`
	After  entity.Record `json:"after,omitempty"`
}

// Entry is one audit event.
type Entry struct {
	Action     string
	EntityType entity.Type
	EntityID   string
	Actor      string
	Severity   Severity
	Changes    *Changes
	Details    map[string]any
}

// Sink consumes audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) {}

// StoreSink persists audit entries as AuditLog records through a store.
// Record returns immediately; the write happens on its own goroutine
// with a detached context so a canceled request cannot lose the entry.
type StoreSink struct {
	store store.Store
	log   zerolog.Logger
	wg    sync.WaitGroup
}

// NewStoreSink creates a sink writing through the given store.
func NewStoreSink(s store.Store, log zerolog.Logger) *StoreSink {
	return &StoreSink{store: s, log: log}
}

func (s *StoreSink) Record(_ context.Context, e Entry) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if e.Severity == "" {
			e.Severity = SeverityInfo
		}
		rec := entity.Record{
			"action":      e.Action,
			"entity_type": string(e.EntityType),
			"entity_id":   e.EntityID,
			"actor":       e.Actor,
			"severity":    string(e.Severity),
		}
		if e.Changes != nil {
			changes := map[string]any{}
			if e.Changes.Before != nil {
				changes["before"] = e.Changes.Before
			}
			if e.Changes.After != nil {
				changes["after"] = e.Changes.After
			}
			rec["changes"] = changes
		}
		if len(e.Details) > 0 {
			rec["details"] = e.Details
		}
		if _, err := s.store.Create(ctx, entity.TypeAuditLog, rec); err != nil {
			s.log.Warn().
				Err(err).
				Str("action", e.Action).
				Str("entity_type", string(e.EntityType)).
				Msg("failed to record audit entry")
		}
	}()
}

// Flush waits for in-flight audit writes. Test hook.
func (s *StoreSink) Flush() { s.wg.Wait() }

// auditedStore notifies the sink after each successful write.
type auditedStore struct {
	store.Store
	sink Sink
}

// WrapStore returns a store that emits an audit entry after every
// successful Create, Update, and Delete. Reads pass through untouched.
func WrapStore(s store.Store, sink Sink) store.Store {
	return &auditedStore{Store: s, sink: sink}
}

func (a *auditedStore) Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error) {
	rec, err := a.Store.Create(ctx, t, data)
	if err == nil && t != entity.TypeAuditLog {
		a.sink.Record(ctx, Entry{
			Action:     "create",
			EntityType: t,
			EntityID:   rec.ID(),
			Changes:    &Changes{After: rec},
		})
	}
	return rec, err
}

func (a *auditedStore) Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error) {
	// The before image is fetched opportunistically; a failed read only
	// costs the entry its before side.
	before, _ := a.Store.Get(ctx, t, id)
	rec, err := a.Store.Update(ctx, t, id, partial)
	if err == nil && t != entity.TypeAuditLog {
		a.sink.Record(ctx, Entry{
			Action:     "update",
			EntityType: t,
			EntityID:   id,
			Changes:    &Changes{Before: before, After: rec},
		})
	}
	return rec, err
}

func (a *auditedStore) Delete(ctx context.Context, t entity.Type, id string) error {
	before, _ := a.Store.Get(ctx, t, id)
	err := a.Store.Delete(ctx, t, id)
	if err == nil && t != entity.TypeAuditLog {
		a.sink.Record(ctx, Entry{
			Action:     "delete",
			EntityType: t,
			EntityID:   id,
			Changes:    &Changes{Before: before},
		})
	}
	return err
}
