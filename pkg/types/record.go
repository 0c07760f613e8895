package types

import (
	"encoding/json"
	"fmt"
)

// Record is a schemaless document as held by the storage collaborator.
type Record map[string]any

// Predicate is an equality filter on a top-level document field.
type Predicate struct {
	Field string
	Value any
}

// Eq builds an equality predicate.
func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Value: value}
}

// WriteOpKind enumerates batch write operations.
type WriteOpKind string

const (
	WriteCreate WriteOpKind = "create"
	WriteSet    WriteOpKind = "set"
	WriteDelete WriteOpKind = "delete"
)

// WriteOp is one step of an atomic batch write.
type WriteOp struct {
	Kind       WriteOpKind
	Collection string
	ID         string
	Record     Record
}

// ToRecord converts a typed value into a Record through its JSON form.
// TECHNICAL DISCOVERY: JSON serialization keeps typed structs and stored
// documents in one shape, so the SQL and in-memory stores agree on field names.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// FromRecord decodes a Record into out.
func FromRecord(rec Record, out any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// NormalizeValue returns v as it would appear inside a decoded Record, so
// predicates compare equal regardless of the caller's Go type.
func NormalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
