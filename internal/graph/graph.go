// Package graph defines the primary-storage collaborator interfaces: entity
// loading, per-application edge enumeration, and the bulk edge streams that
// feed reindex and collection-delete jobs. The storage engine itself lives
// behind these interfaces.
package graph

import (
	"context"

	"github.com/tenantgrid/index-pipeline/internal/core"
)

// Manager enumerates the edges touching one entity within an application.
type Manager interface {
	// EdgesToTarget returns edges whose target is the given entity: the
	// containers its document is indexed under.
	EdgesToTarget(ctx context.Context, target core.Id) ([]core.Edge, error)
	// EdgesFromSource returns edges whose source is the given entity, used
	// for bidirectional (linked collection) indexing.
	EdgesFromSource(ctx context.Context, source core.Id) ([]core.Edge, error)
}

// Factory creates edge managers bound to an application scope.
type Factory interface {
	EdgeManager(scope core.ApplicationScope) Manager
}

// EntityLoader loads an entity fresh from primary storage.
type EntityLoader interface {
	Load(ctx context.Context, scope core.ApplicationScope, id core.Id) (*core.Entity, error)
}

// EdgeFilter narrows a bulk edge stream. Zero values mean "no filter".
type EdgeFilter struct {
	// Collection restricts the stream to membership edges of one collection.
	Collection string
	// Since drops edges whose timestamp is older than this epoch-millis
	// value.
	Since int64
}

// Explorer streams every entity edge across the given applications, in a
// stable per-application order. The returned channel is closed when the
// stream is exhausted or ctx is cancelled; the error channel delivers at
// most one error.
type Explorer interface {
	EdgesToEntities(ctx context.Context, apps []core.ApplicationScope, filter EdgeFilter) (<-chan core.EdgeScope, <-chan error)
}

// AppLister enumerates every application known to primary storage.
type AppLister interface {
	Applications(ctx context.Context) ([]core.ApplicationScope, error)
}
