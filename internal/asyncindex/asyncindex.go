// Package asyncindex is the asynchronous dispatch layer in front of the
// indexing engine. Two interchangeable implementations exist: a local
// worker-pool variant that dispatches in process (lowest latency, work lost
// on crash) and a distributed variant backed by a durable queue with
// at-least-once delivery.
package asyncindex

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// Service schedules index work without blocking the caller.
type Service interface {
	// QueueEntityIndexUpdate schedules a (re)index of the entity. Fire and
	// forget: an error means the event could not be scheduled, not that
	// indexing failed.
	QueueEntityIndexUpdate(ctx context.Context, scope core.ApplicationScope, entity *core.Entity) error
	// Index loads the entity fresh from primary storage by id and indexes
	// it. Bulk reindex streams ids, not loaded entities; the distributed
	// variant routes them through a utility queue so a bulk run cannot
	// starve live index events.
	Index(ctx context.Context, scope core.EntityIDScope) error
	// Start launches background workers; Stop drains and releases them.
	Start(ctx context.Context) error
	Stop() error
}

// indexByID is the shared load-and-index path. An entity deleted since the
// event was scheduled has its documents removed instead, using the event's
// version when one is known.
func indexByID(ctx context.Context, loader graph.EntityLoader, svc *indexing.Service, scope core.EntityIDScope, eventVersion uuid.UUID) error {
	entity, err := loader.Load(ctx, scope.Application, scope.ID)
	if err != nil {
		if stderrors.Is(err, errors.ErrEntityNotFound) {
			if eventVersion == uuid.Nil {
				return nil
			}
			_, err = svc.DeleteEntityIndexes(scope.Application, scope.ID, eventVersion)(ctx)
			return err
		}
		return err
	}
	_, err = svc.IndexEntity(scope.Application, entity)(ctx)
	return err
}
