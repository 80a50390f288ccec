// Package routing decides, per entity type, which backend adapter a call
// is dispatched to during the cutover from the hosted platform to the
// relational backend.
package routing

import (
	"fmt"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// Mode is the process-wide routing flag.
type Mode string

const (
	// ModeLegacyDefault routes every entity to the legacy adapter. The
	// new backend may exist but receives no traffic.
	ModeLegacyDefault Mode = "legacy-default"

	// ModeNewPreferred routes entities on the migrated allow-list to the
	// new adapter and everything else to the legacy one, so that entity
	// types not yet present in the new backend keep working during a
	// gradual cutover.
	ModeNewPreferred Mode = "new-preferred"
)

// Router resolves entity types to adapters. Resolution is pure selection
// over an immutable configuration snapshot: two calls with the same entity
// type always return the same adapter, so a read-then-write within one
// user action can never silently split across backends. To change routing,
// construct a new Router.
type Router struct {
	legacy   store.Store
	next     store.Store
	mode     Mode
	migrated map[entity.Type]bool
}

// New builds a router. It fails fast with a configuration error when the
// mode prefers the new backend but no new adapter is configured; silently
// falling back would mask a broken deployment as "no data".
func New(legacy, next store.Store, mode Mode, migrated []entity.Type) (*Router, error) {
	if legacy == nil {
		return nil, &entity.ConfigurationError{Reason: "legacy adapter is required"}
	}
	switch mode {
	case ModeLegacyDefault, ModeNewPreferred:
	default:
		return nil, &entity.ConfigurationError{Reason: fmt.Sprintf("unknown routing mode %q", mode)}
	}
	if mode == ModeNewPreferred && next == nil {
		return nil, &entity.ConfigurationError{Reason: "routing mode prefers the new backend but its connection parameters are absent"}
	}

	set := make(map[entity.Type]bool, len(migrated))
	for _, t := range migrated {
		set[t] = true
	}
	return &Router{legacy: legacy, next: next, mode: mode, migrated: set}, nil
}

// Resolve returns the adapter that serves the given entity type under the
// current configuration snapshot.
func (r *Router) Resolve(t entity.Type) (store.Store, error) {
	if !t.Valid() {
		return nil, &entity.ConfigurationError{Reason: fmt.Sprintf("unknown entity type %q", t)}
	}
	if r.mode == ModeNewPreferred && r.migrated[t] {
		if r.next == nil {
			return nil, &entity.ConfigurationError{Reason: "new backend requested but not configured"}
		}
		return r.next, nil
	}
	return r.legacy, nil
}

// Legacy returns the legacy adapter. The migration engine drives it
// directly, outside normal routed traffic.
func (r *Router) Legacy() store.Store { return r.legacy }

// Next returns the new-backend adapter, or nil when not configured.
func (r *Router) Next() store.Store { return r.next }

// Mode returns the routing flag the router was built with.
func (r *Router) Mode() Mode { return r.mode }
