// Package migrate copies entity data from the legacy backend into the
// new one, batch by batch, and verifies the result.
//
// The engine is resumable and tolerant: each record carries its own
// outcome, a failed record is reported and skipped rather than aborting
// the batch, and records already marked copied are not copied again.
package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// DefaultBatchSize bounds how many records are copied per chunk when the
// caller does not choose one.
const DefaultBatchSize = 100

// Report summarizes one MigrateEntity run.
type Report struct {
	EntityType entity.Type `json:"entity_type"`
	Total      int         `json:"total"`
	Migrated   int         `json:"migrated"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Errors     []string    `json:"errors,omitempty"`
}

// SyncStatus is the result of comparing both backends for one entity
// type. The comparison is count based, an advisory signal for operators
// rather than a record-level diff.
type SyncStatus struct {
	EntityType  entity.Type `json:"entity_type"`
	LegacyCount int         `json:"legacy_count"`
	NewCount    int         `json:"new_count"`
	Synced      bool        `json:"synced"`
}

// Engine copies records between two stores.
type Engine struct {
	legacy store.Store
	target store.Store
	log    zerolog.Logger
}

// New creates an engine copying from legacy into target.
func New(legacy, target store.Store, log zerolog.Logger) *Engine {
	return &Engine{legacy: legacy, target: target, log: log}
}

// MigrateEntity copies every record of one entity type from the legacy
// backend into the target, batchSize records at a time. Records whose
// source id already has a copied marker are skipped, so an interrupted
// run can simply be restarted. A failing record increments Failed and
// the run continues; the error is retained in the report.
//
// The store contract offers no offset parameter, so the legacy record
// set is fetched in a single List and batchSize bounds only the write
// loop, not the read. Memory is bounded by the legacy data set size, the
// same as the listing the validation pass performs.
func (e *Engine) MigrateEntity(ctx context.Context, t entity.Type, batchSize int) (*Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	records, err := e.legacy.List(ctx, t, entity.FieldCreatedDate, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s from legacy backend: %w", t, err)
	}

	copied, err := e.copiedSourceIDs(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration markers for %s: %w", t, err)
	}

	report := &Report{EntityType: t, Total: len(records)}
	e.log.Info().
		Str("entity", string(t)).
		Int("total", len(records)).
		Int("already_copied", len(copied)).
		Msg("starting entity migration")

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		for _, rec := range records[start:end] {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			sourceID := rec.ID()
			if copied[sourceID] {
				report.Skipped++
				continue
			}
			if err := e.copyRecord(ctx, t, rec); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s %s: %v", t, sourceID, err))
				e.log.Error().
					Err(err).
					Str("entity", string(t)).
					Str("source_id", sourceID).
					Msg("record migration failed")
				continue
			}
			report.Migrated++
		}
		e.log.Debug().
			Str("entity", string(t)).
			Int("done", end).
			Int("total", len(records)).
			Msg("migration batch complete")
	}

	e.log.Info().
		Str("entity", string(t)).
		Int("migrated", report.Migrated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("entity migration finished")
	return report, nil
}

// copiedSourceIDs returns the legacy ids that already have a copied
// migration marker in the target.
func (e *Engine) copiedSourceIDs(ctx context.Context, t entity.Type) (map[string]bool, error) {
	markers, err := e.target.Filter(ctx, entity.TypeMigrationRecord, entity.Filter{
		"entity_type": string(t),
		"status":      "copied",
	}, "", 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(markers))
	for _, m := range markers {
		if id := m.String("source_id"); id != "" {
			out[id] = true
		}
	}
	return out, nil
}

// copyRecord writes one legacy record into the target, preserving the
// legacy id, then records the per-record outcome. Marker writes are best
// effort; losing a copied marker only means the record is copied again
// on the next run, losing a failed one only loses the error detail.
func (e *Engine) copyRecord(ctx context.Context, t entity.Type, rec entity.Record) error {
	data := rec.Clone()
	created, err := e.target.Create(ctx, t, data)
	if err != nil {
		e.writeMarker(ctx, entity.Record{
			"entity_type": string(t),
			"source_id":   rec.ID(),
			"status":      "failed",
			"error":       err.Error(),
		})
		return err
	}

	e.writeMarker(ctx, entity.Record{
		"entity_type": string(t),
		"source_id":   rec.ID(),
		"target_id":   created.ID(),
		"status":      "copied",
	})
	return nil
}

func (e *Engine) writeMarker(ctx context.Context, marker entity.Record) {
	if _, err := e.target.Create(ctx, entity.TypeMigrationRecord, marker); err != nil {
		e.log.Warn().
			Err(err).
			Str("source_id", marker.String("source_id")).
			Msg("failed to write migration marker")
	}
}

// MigrateAll runs MigrateEntity for every business entity type, in
// declaration order, and returns the per-type reports. A type whose
// listing fails is reported and the run moves on to the next type.
func (e *Engine) MigrateAll(ctx context.Context, batchSize int) ([]*Report, error) {
	var reports []*Report
	for _, t := range entity.Types() {
		if t == entity.TypeAuditLog || t == entity.TypeMigrationRecord {
			continue
		}
		report, err := e.MigrateEntity(ctx, t, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return reports, err
			}
			reports = append(reports, &Report{
				EntityType: t,
				Errors:     []string{err.Error()},
			})
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ValidateSync counts one entity type on both backends and reports
// whether the counts agree.
func (e *Engine) ValidateSync(ctx context.Context, t entity.Type) (*SyncStatus, error) {
	legacy, err := e.legacy.List(ctx, t, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s on legacy backend: %w", t, err)
	}
	next, err := e.target.List(ctx, t, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s on new backend: %w", t, err)
	}

	status := &SyncStatus{
		EntityType:  t,
		LegacyCount: len(legacy),
		NewCount:    len(next),
		Synced:      len(legacy) == len(next),
	}
	if !status.Synced {
		e.log.Warn().
			Str("entity", string(t)).
			Int("legacy", status.LegacyCount).
			Int("new", status.NewCount).
			Msg("backends out of sync")
	}
	return status, nil
}
