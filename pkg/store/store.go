// Package store defines the uniform data-access contract implemented once
// per backend.
//
// The [Store] interface is the seam the whole application stands on during
// the backend cutover: the hosted-platform adapter
// ([github.com/repairhq/repairstore/pkg/store/base44]) and the
// serverless-function adapter
// ([github.com/repairhq/repairstore/pkg/store/neonfn]) both satisfy it, and
// the routing layer ([github.com/repairhq/repairstore/pkg/store/routing])
// decides per entity type which implementation a call reaches. The neon
// side of the wire is backed by
// [github.com/repairhq/repairstore/pkg/store/postgres], which also serves
// the function server directly.
//
// Contract, uniform across backends:
//
//   - List and Filter always return a non-nil slice, empty when the
//     backend reports zero matches.
//   - Get on a missing id fails with [github.com/repairhq/repairstore/pkg/entity.NotFoundError].
//   - Create and Update return the persisted record including
//     server-assigned fields (id, created_date, updated_date).
//   - Update merges the partial record into the stored one; it never
//     replaces the record wholesale.
//   - All operations accept a context and respect its cancellation.
//
// Audit notification is not part of this contract. Mutating calls are
// observed by wrapping a Store with
// [github.com/repairhq/repairstore/pkg/audit.WrapStore], keeping adapters
// free of side channels.
package store

import (
	"context"
	"strings"

	"github.com/repairhq/repairstore/pkg/entity"
)

// Store is the uniform CRUD/filter/list contract. A sort spec is a field
// name, optionally prefixed with "-" for descending order ("-created_date"
// is the common case); limit 0 means no limit.
type Store interface {
	// Backend identifies which persistence system this store reaches.
	Backend() entity.Backend

	List(ctx context.Context, t entity.Type, sort string, limit int) ([]entity.Record, error)
	Filter(ctx context.Context, t entity.Type, where entity.Filter, sort string, limit int) ([]entity.Record, error)
	Get(ctx context.Context, t entity.Type, id string) (entity.Record, error)
	Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error)
	Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error)
	Delete(ctx context.Context, t entity.Type, id string) error
}

// ParseSort splits a sort spec into its field and direction.
func ParseSort(sort string) (field string, desc bool) {
	if strings.HasPrefix(sort, "-") {
		return sort[1:], true
	}
	return sort, false
}
