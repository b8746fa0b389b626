// Package search defines the search-engine collaborator: a per-application
// entity index that accepts batched, versioned document writes and deletes.
// The real engine lives behind these interfaces; an in-memory implementation
// backs local deployments and tests.
package search

import (
	"context"

	"github.com/google/uuid"
	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/location"
)

// Batch accumulates index writes and deletes. Nothing reaches the engine
// until Execute; the batch is discarded afterwards.
type Batch interface {
	// Index queues the entity's document under the given edge scope. A nil
	// fields slice indexes the whole document; otherwise only the named
	// fields are indexed.
	Index(edge core.IndexEdge, entity *core.Entity, fields []string)
	// Deindex queues removal of the (edge, entity, version) document.
	Deindex(edge core.IndexEdge, id core.Id, version uuid.UUID)
	// Size returns the number of queued operations.
	Size() int
	// Execute sends the batch to the engine and returns a summary.
	Execute(ctx context.Context) (core.IndexOperationMessage, error)
}

// EntityIndex is one application's view of the search engine.
type EntityIndex interface {
	CreateBatch() Batch
	// Initialize ensures the physical index and its aliases exist. Bulk
	// reindex calls this before streaming.
	Initialize(ctx context.Context) error
}

// Factory creates entity indexes for a physical location.
type Factory interface {
	EntityIndex(strategy location.Strategy) EntityIndex
}
