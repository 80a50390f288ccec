// Package postgres implements the neon-side persistence for the
// serverless functions using GORM.
//
// Entity records live in a single entity_records table: the entity type
// tag, a JSONB payload with the business fields, and server-managed id and
// timestamps. The schema-flexible payload mirrors what the hosted platform
// stores, which keeps migrated records byte-comparable without one table
// per business entity.
//
// The table that earns this package its existence is sequence_counters:
// NextSequence performs the single atomic upsert-and-increment that makes
// human-readable sequence numbers collision-free under concurrent writers.
package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// JSONMap stores a record's business fields as JSONB.
type JSONMap map[string]any

// Value implements driver.Valuer for database storage.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for database retrieval.
func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = make(map[string]any)
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		b = []byte(value.(string))
	}
	return json.Unmarshal(b, j)
}

// EntityRecord is one row of the generic entity store.
type EntityRecord struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	EntityType string    `gorm:"size:64;not null;index"`
	Data       JSONMap   `gorm:"type:jsonb"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

// BeforeCreate hook to generate the id if not set.
func (r *EntityRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// SequenceCounter is one row per (sequence type, period). The count only
// ever increases and rows are never deleted; the table doubles as an
// issuance audit trail.
type SequenceCounter struct {
	SequenceType string `gorm:"size:16;primaryKey"`
	PeriodKey    string `gorm:"size:8;primaryKey"`
	Count        int64  `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store implements the uniform store contract over PostgreSQL and adds
// the atomic sequence allocation the function server exposes.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// New connects to PostgreSQL.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing GORM handle. Test hook.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or updates the schema. Safe to run repeatedly; it only
// adds missing schema elements.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&EntityRecord{},
		&SequenceCounter{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Backend() entity.Backend { return entity.BackendNeon }

// materialize converts a row into the wire-shaped record, overlaying the
// server-assigned fields onto the stored payload.
func materialize(row *EntityRecord) entity.Record {
	rec := make(entity.Record, len(row.Data)+3)
	for k, v := range row.Data {
		rec[k] = v
	}
	rec[entity.FieldID] = row.ID
	rec[entity.FieldCreatedDate] = row.CreatedAt.UTC().Format(time.RFC3339)
	rec[entity.FieldUpdatedDate] = row.UpdatedAt.UTC().Format(time.RFC3339)
	return rec
}

// orderClause maps a sort spec to SQL. Server-assigned fields sort on
// their columns; everything else sorts on the JSONB payload text value.
func orderClause(sortSpec string) string {
	if sortSpec == "" {
		sortSpec = "-" + entity.FieldCreatedDate
	}
	field, desc := store.ParseSort(sortSpec)
	var col string
	switch field {
	case entity.FieldID:
		col = "id"
	case entity.FieldCreatedDate:
		col = "created_at"
	case entity.FieldUpdatedDate:
		col = "updated_at"
	default:
		col = fmt.Sprintf("data->>'%s'", field)
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func (s *Store) query(ctx context.Context, t entity.Type, where entity.Filter, sortSpec string, limit int) ([]entity.Record, error) {
	q := s.db.WithContext(ctx).
		Model(&EntityRecord{}).
		Where("entity_type = ?", string(t)).
		Order(orderClause(sortSpec))
	if len(where) > 0 {
		predicate, err := json.Marshal(where)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		q = q.Where("data @> ?", string(predicate))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []*EntityRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, materialize(row))
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, t entity.Type, sortSpec string, limit int) ([]entity.Record, error) {
	return s.query(ctx, t, nil, sortSpec, limit)
}

func (s *Store) Filter(ctx context.Context, t entity.Type, where entity.Filter, sortSpec string, limit int) ([]entity.Record, error) {
	return s.query(ctx, t, where, sortSpec, limit)
}

func (s *Store) Get(ctx context.Context, t entity.Type, id string) (entity.Record, error) {
	var row EntityRecord
	err := s.db.WithContext(ctx).First(&row, "entity_type = ? AND id = ?", string(t), id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &entity.NotFoundError{Type: t, ID: id}
		}
		return nil, err
	}
	return materialize(&row), nil
}

func (s *Store) Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error) {
	row := &EntityRecord{
		ID:         data.ID(),
		EntityType: string(t),
		Data:       payloadOf(data),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return materialize(row), nil
}

func (s *Store) Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error) {
	var updated *EntityRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row EntityRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "entity_type = ? AND id = ?", string(t), id).Error; err != nil {
			return err
		}
		for k, v := range payloadOf(partial) {
			if row.Data == nil {
				row.Data = JSONMap{}
			}
			row.Data[k] = v
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		updated = &row
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &entity.NotFoundError{Type: t, ID: id}
		}
		return nil, err
	}
	return materialize(updated), nil
}

func (s *Store) Delete(ctx context.Context, t entity.Type, id string) error {
	res := s.db.WithContext(ctx).Delete(&EntityRecord{}, "entity_type = ? AND id = ?", string(t), id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &entity.NotFoundError{Type: t, ID: id}
	}
	return nil
}

// payloadOf strips the server-assigned fields from a record so they never
// leak into the JSONB payload.
func payloadOf(rec entity.Record) JSONMap {
	data := make(JSONMap, len(rec))
	for k, v := range rec {
		switch k {
		case entity.FieldID, entity.FieldCreatedDate, entity.FieldUpdatedDate:
			continue
		}
		data[k] = v
	}
	return data
}

// NextSequence atomically increments and returns the counter for
// (sequenceType, periodKey), creating the row on first use. The whole
// increment-and-read is a single INSERT ... ON CONFLICT DO UPDATE SET
// count = count + 1 RETURNING count statement, never a client-side
// read-then-write, so two concurrent callers cannot observe the same
// value.
func (s *Store) NextSequence(ctx context.Context, sequenceType, periodKey string) (int64, error) {
	ctr := SequenceCounter{
		SequenceType: sequenceType,
		PeriodKey:    periodKey,
		Count:        1,
	}
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "sequence_type"}, {Name: "period_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("sequence_counters.count + 1"),
				"updated_at": time.Now(),
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "count"}}},
	).Create(&ctr).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence %s/%s: %w", sequenceType, periodKey, err)
	}
	return ctr.Count, nil
}
