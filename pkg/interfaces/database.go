package interfaces

import (
	"context"

	"classroomhub/pkg/types"
)

// Store is the document-store collaborator. It is the sole source of truth for
// classroom, session and score definitions.
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and a drop-in in-memory double.
type Store interface {
	// Get returns the record with id. The bool is false when it does not exist.
	Get(ctx context.Context, collection, id string) (types.Record, bool, error)

	// Query returns records matching every equality predicate, ordered by id.
	Query(ctx context.Context, collection string, predicates ...types.Predicate) ([]types.Record, error)

	// Create inserts a record and returns its id. An empty id is generated.
	Create(ctx context.Context, collection string, record types.Record) (string, error)

	// Set upserts a record under id.
	Set(ctx context.Context, collection, id string, record types.Record) error

	// BatchWrite applies all operations atomically.
	BatchWrite(ctx context.Context, ops []types.WriteOp) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}
