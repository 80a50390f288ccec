package entity

import (
	"reflect"
	"time"
)

// Reserved record fields assigned by whichever backend persists the record.
const (
	FieldID          = "id"
	FieldCreatedDate = "created_date"
	FieldUpdatedDate = "updated_date"
)

// Record is a schema-less-to-the-client entity record: a flat JSON object
// with a server-assigned id and timestamps plus arbitrary business fields.
// The data layer deliberately does not model Order/Customer/Sale field
// lists; those schemas belong to the backends and the UI.
type Record map[string]any

// ID returns the server-assigned record id, or "" when the record has not
// been persisted yet.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// String returns the named field as a string, or "" when absent or of a
// different type.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Time returns the named field parsed as an RFC 3339 timestamp. Both
// backends serialize timestamps as RFC 3339 strings; a record that came
// straight from this process may still hold a time.Time.
func (r Record) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Float returns the named field as a float64. JSON decoding yields
// float64 for every number, but records built in-process may carry ints.
func (r Record) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Clone returns a shallow copy of the record. Adapters clone before
// mutating so callers never observe server-assigned fields appearing in
// the map they passed in.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge overlays partial onto a copy of r and returns it. Used by update
// paths: the stored record is the old record with the partial fields
// replaced, never a wholesale swap.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Filter is the predicate object accepted by the uniform Filter
// operation: field name to required value, combined conjunctively.
type Filter map[string]any

// Matches reports whether the record satisfies every predicate field.
// Comparison is by loose equality so that a JSON-decoded float64 matches
// an in-process int of the same value.
func (f Filter) Matches(r Record) bool {
	for field, want := range f {
		if !looseEqual(r[field], want) {
			return false
		}
	}
	return true
}

// looseEqual compares with numeric coercion for scalars and deep
// equality otherwise. Predicate values may be arrays or objects straight
// out of a decoded JSON body, so direct interface comparison is off the
// table: it panics on uncomparable dynamic types.
func looseEqual(a, b any) bool {
	af, aok := Record{"v": a}.Float("v")
	bf, bok := Record{"v": b}.Float("v")
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}
