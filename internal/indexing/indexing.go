// Package indexing is the synchronous indexing engine. Given an entity and
// its graph edges it produces batched search-engine writes: one operation per
// edge context, folded into batches of a configured maximum size. All
// operations are deferred; nothing touches storage or the engine until the
// returned Operation is run.
package indexing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

// Operation is deferred indexing work. Construction performs no I/O; the
// work happens when Run is called, and failures surface to the caller of
// Run. Retries are the caller's responsibility.
type Operation func(ctx context.Context) ([]core.IndexOperationMessage, error)

// schemaDoc is the subset of a collection schema document the engine reads.
type schemaDoc struct {
	// LinkedCollection names a collection whose members must also be
	// indexed under edges pointing out of this entity (bidirectional
	// indexing for containers like roles and groups).
	LinkedCollection string `json:"linkedCollection"`
}

// settingsDoc is the subset of a collection settings document the engine
// reads.
type settingsDoc struct {
	// Fields selects which entity fields are indexed: "all" (or absent)
	// indexes the whole document, a list indexes only the named fields.
	Fields any `json:"fields"`
}

// Service produces index batches from entities and edges.
type Service struct {
	graphs    graph.Factory
	indexes   search.Factory
	locations *location.Factory
	versions  *versions.Service
	settings  *settings.Cache
	schemas   *settings.Cache
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	graphs graph.Factory,
	indexes search.Factory,
	locations *location.Factory,
	versionSvc *versions.Service,
	settingsCache, schemaCache *settings.Cache,
	cfg config.IndexConfig,
	m *metrics.Metrics,
) *Service {
	return &Service{
		graphs:    graphs,
		indexes:   indexes,
		locations: locations,
		versions:  versionSvc,
		settings:  settingsCache,
		schemas:   schemaCache,
		batchSize: cfg.BatchSize,
		metrics:   m,
		logger:    slog.Default().With("component", "index-service"),
	}
}

// IndexEntity returns the deferred work of indexing one entity under every
// edge it participates in: the containers it belongs to, plus the reverse
// direction when its collection links another collection.
func (s *Service) IndexEntity(scope core.ApplicationScope, entity *core.Entity) Operation {
	return func(ctx context.Context) ([]core.IndexOperationMessage, error) {
		manager := s.graphs.EdgeManager(scope)

		toTarget, err := manager.EdgesToTarget(ctx, entity.ID)
		if err != nil {
			return nil, err
		}
		edges := make([]core.IndexEdge, 0, len(toTarget))
		for _, e := range toTarget {
			edges = append(edges, core.IndexEdgeFromSource(e))
		}

		linked, err := s.hasLinkedCollection(ctx, scope, entity.ID.Type)
		if err != nil {
			return nil, err
		}
		if linked {
			fromSource, err := manager.EdgesFromSource(ctx, entity.ID)
			if err != nil {
				return nil, err
			}
			for _, e := range fromSource {
				edges = append(edges, core.IndexEdgeFromTarget(e))
			}
		}

		return s.runBatches(ctx, scope, edges, func(batch search.Batch, edge core.IndexEdge) error {
			fields, err := s.indexedFields(ctx, scope, edge)
			if err != nil {
				return err
			}
			batch.Index(edge, entity, fields)
			return nil
		})
	}
}

// IndexEdge indexes one entity under a single edge, used when a connection
// is added rather than the entity mutated.
func (s *Service) IndexEdge(scope core.ApplicationScope, entity *core.Entity, edge core.Edge) Operation {
	return func(ctx context.Context) ([]core.IndexOperationMessage, error) {
		indexEdge := core.IndexEdgeFromSource(edge)
		return s.runBatches(ctx, scope, []core.IndexEdge{indexEdge}, func(batch search.Batch, e core.IndexEdge) error {
			fields, err := s.indexedFields(ctx, scope, e)
			if err != nil {
				return err
			}
			batch.Index(e, entity, fields)
			return nil
		})
	}
}

// DeleteIndexEdge removes the document indexed under a single edge, used
// when a connection is removed.
func (s *Service) DeleteIndexEdge(scope core.ApplicationScope, edge core.Edge, id core.Id, version uuid.UUID) Operation {
	return func(ctx context.Context) ([]core.IndexOperationMessage, error) {
		indexEdge := core.IndexEdgeFromSource(edge)
		return s.runBatches(ctx, scope, []core.IndexEdge{indexEdge}, func(batch search.Batch, e core.IndexEdge) error {
			batch.Deindex(e, id, version)
			return nil
		})
	}
}

// DeleteEntityIndexes removes every document indexed for the entity across
// all the edges it participates in.
func (s *Service) DeleteEntityIndexes(scope core.ApplicationScope, id core.Id, version uuid.UUID) Operation {
	return func(ctx context.Context) ([]core.IndexOperationMessage, error) {
		manager := s.graphs.EdgeManager(scope)
		toTarget, err := manager.EdgesToTarget(ctx, id)
		if err != nil {
			return nil, err
		}
		edges := make([]core.IndexEdge, 0, len(toTarget))
		for _, e := range toTarget {
			edges = append(edges, core.IndexEdgeFromSource(e))
		}
		return s.runBatches(ctx, scope, edges, func(batch search.Batch, e core.IndexEdge) error {
			batch.Deindex(e, id, version)
			return nil
		})
	}
}

// runBatches chunks the edge descriptors by the configured batch size,
// resolves versioned edge names, fills one batch per chunk and executes it.
func (s *Service) runBatches(
	ctx context.Context,
	scope core.ApplicationScope,
	edges []core.IndexEdge,
	fill func(search.Batch, core.IndexEdge) error,
) ([]core.IndexOperationMessage, error) {
	if len(edges) == 0 {
		return nil, nil
	}

	index := s.indexes.EntityIndex(s.locations.StrategyFor(scope))

	var results []core.IndexOperationMessage
	for start := 0; start < len(edges); start += s.batchSize {
		end := start + s.batchSize
		if end > len(edges) {
			end = len(edges)
		}

		batch := index.CreateBatch()
		for _, edge := range edges[start:end] {
			named, err := s.versionedEdge(ctx, scope, edge)
			if err != nil {
				return results, err
			}
			if err := fill(batch, named); err != nil {
				return results, err
			}
		}

		msg, err := s.executeBatch(ctx, batch)
		if err != nil {
			return results, err
		}
		results = append(results, msg)
	}
	return results, nil
}

func (s *Service) executeBatch(ctx context.Context, batch search.Batch) (core.IndexOperationMessage, error) {
	start := time.Now()
	msg, err := batch.Execute(ctx)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.IndexBatchDuration.Observe(elapsed.Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.IndexBatchesTotal.WithLabelValues(status).Inc()
		if err == nil {
			s.metrics.IndexWritesTotal.Add(float64(msg.Writes))
			s.metrics.DeindexWritesTotal.Add(float64(msg.Deletes))
		}
	}
	if err != nil {
		return core.IndexOperationMessage{}, err
	}
	msg.Took = elapsed
	return msg, nil
}

// versionedEdge rewrites a collection-membership edge name to its current
// versioned form so writes land in the active generation. Connection edges
// pass through unchanged.
func (s *Service) versionedEdge(ctx context.Context, scope core.ApplicationScope, edge core.IndexEdge) (core.IndexEdge, error) {
	if !core.IsCollectionEdgeType(edge.Name) {
		return edge, nil
	}
	collection := core.CollectionNameFromEdgeType(edge.Name)
	name, err := s.versions.VersionedName(ctx, core.CollectionScope{Application: scope.Application, Collection: collection}, false)
	if err != nil {
		return core.IndexEdge{}, err
	}
	edge.Name = core.CollectionEdgeType(name)
	return edge, nil
}

// hasLinkedCollection reports whether the schema for the entity type's
// collection configures a linked collection, which turns on the reverse
// indexing pass. No schema, or a schema without the link, is a no-op.
func (s *Service) hasLinkedCollection(ctx context.Context, scope core.ApplicationScope, entityType string) (bool, error) {
	if s.schemas == nil {
		return false, nil
	}
	doc, found, err := s.schemas.Get(ctx, scope.Application, core.Pluralize(entityType))
	if err != nil {
		return false, err
	}
	if !found || doc == "" {
		return false, nil
	}
	var schema schemaDoc
	if err := json.Unmarshal([]byte(doc), &schema); err != nil {
		s.logger.Warn("unparseable schema document, skipping linked-collection pass",
			"application", scope.String(), "collection", core.Pluralize(entityType), "error", err)
		return false, nil
	}
	return schema.LinkedCollection != "", nil
}

// indexedFields resolves the field selection for the collection an edge
// indexes into. nil means the whole document.
func (s *Service) indexedFields(ctx context.Context, scope core.ApplicationScope, edge core.IndexEdge) ([]string, error) {
	if s.settings == nil || !core.IsCollectionEdgeType(edge.Name) {
		return nil, nil
	}
	collection, _ := versions.ParseVersionedName(core.CollectionNameFromEdgeType(edge.Name))
	doc, found, err := s.settings.Get(ctx, scope.Application, collection)
	if err != nil {
		return nil, err
	}
	if !found || doc == "" {
		return nil, nil
	}
	var parsed settingsDoc
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		s.logger.Warn("unparseable settings document, indexing all fields",
			"application", scope.String(), "collection", collection, "error", err)
		return nil, nil
	}
	switch v := parsed.Fields.(type) {
	case string:
		// "all" and anything unrecognised index the whole document.
		return nil, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, f := range v {
			if name, ok := f.(string); ok {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return nil, nil
		}
		return names, nil
	default:
		return nil, nil
	}
}
