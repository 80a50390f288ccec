// Package entity defines the backend-neutral vocabulary of the data layer:
// entity type tags, the schema-less record shape exchanged with both
// backends, and the error taxonomy shared by every adapter.
//
// The application never sees backend-specific call shapes. It manipulates
// named entity types through the uniform store contract in
// [github.com/repairhq/repairstore/pkg/store], and every adapter translates
// these types and records into its own wire format.
package entity

import "fmt"

// Type tags a named entity manipulated through the store contract.
//
// Dispatching on a typed tag instead of a raw string keeps the set of
// entities that exist per backend visible at compile time: the routing
// layer and the function-name mapping below both enumerate Types().
type Type string

const (
	TypeOrder       Type = "Order"
	TypeSale        Type = "Sale"
	TypeCustomer    Type = "Customer"
	TypeProduct     Type = "Product"
	TypeExpense     Type = "Expense"
	TypeTransaction Type = "Transaction"

	// TypeAuditLog and TypeMigrationRecord are system entities: they are
	// written by the audit sink and the migration engine, never by the UI.
	TypeAuditLog        Type = "AuditLog"
	TypeMigrationRecord Type = "MigrationRecord"
)

// Types returns every entity type known to the data layer, business and
// system entities alike. The order is stable.
func Types() []Type {
	return []Type{
		TypeOrder,
		TypeSale,
		TypeCustomer,
		TypeProduct,
		TypeExpense,
		TypeTransaction,
		TypeAuditLog,
		TypeMigrationRecord,
	}
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Backend names one of the two interchangeable persistence systems.
type Backend string

const (
	// BackendBase44 is the legacy hosted platform reached through its
	// native entity API.
	BackendBase44 Backend = "base44"

	// BackendNeon is the relational database reached through serverless
	// function endpoints.
	BackendNeon Backend = "neon"
)

// Op names one of the uniform store operations for wire purposes.
type Op string

const (
	OpList   Op = "List"
	OpFilter Op = "Filter"
	OpGet    Op = "Get"
	OpCreate Op = "Create"
	OpUpdate Op = "Update"
	OpDelete Op = "Delete"
)

// functionStem returns the lower-camel plural used in serverless function
// names, e.g. Sale -> "sales", Transaction -> "transactions".
func functionStem(t Type) string {
	s := string(t)
	if s == "" {
		return ""
	}
	stem := string(s[0]|0x20) + s[1:]
	return stem + "s"
}

// FunctionName derives the serverless endpoint name for an entity
// operation, e.g. (Sale, OpList) -> "salesList". The neon adapter builds
// request paths with it and the function server parses them back with
// ParseFunctionName, so the two sides cannot drift.
func FunctionName(t Type, op Op) string {
	return functionStem(t) + string(op)
}

// ParseFunctionName recovers the entity type and operation from a
// serverless function name produced by FunctionName.
func ParseFunctionName(name string) (Type, Op, error) {
	ops := []Op{OpList, OpFilter, OpGet, OpCreate, OpUpdate, OpDelete}
	for _, t := range Types() {
		for _, op := range ops {
			if FunctionName(t, op) == name {
				return t, op, nil
			}
		}
	}
	return "", "", fmt.Errorf("unknown function name %q", name)
}
