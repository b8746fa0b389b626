package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// MemoryGraph is an in-process primary-storage stand-in for local
// deployments and tests. It implements Factory, EntityLoader, Explorer, and
// AppLister.
type MemoryGraph struct {
	mu       sync.RWMutex
	apps     []core.ApplicationScope
	entities map[core.ApplicationScope]map[core.Id]*core.Entity
	edges    map[core.ApplicationScope][]core.Edge
}

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities: make(map[core.ApplicationScope]map[core.Id]*core.Entity),
		edges:    make(map[core.ApplicationScope][]core.Edge),
	}
}

// PutEntity stores an entity and registers its application.
func (g *MemoryGraph) PutEntity(scope core.ApplicationScope, entity *core.Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[scope]; !ok {
		g.entities[scope] = make(map[core.Id]*core.Entity)
		g.apps = append(g.apps, scope)
		sort.Slice(g.apps, func(i, j int) bool {
			return g.apps[i].Application.String() < g.apps[j].Application.String()
		})
	}
	g.entities[scope][entity.ID] = entity
}

// WriteEdge appends an edge within an application.
func (g *MemoryGraph) WriteEdge(scope core.ApplicationScope, edge core.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[scope]; !ok {
		g.entities[scope] = make(map[core.Id]*core.Entity)
		g.apps = append(g.apps, scope)
	}
	g.edges[scope] = append(g.edges[scope], edge)
}

// DeleteEntity removes an entity and all edges touching it.
func (g *MemoryGraph) DeleteEntity(scope core.ApplicationScope, id core.Id) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entities[scope], id)
	kept := g.edges[scope][:0]
	for _, e := range g.edges[scope] {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges[scope] = kept
}

func (g *MemoryGraph) Load(_ context.Context, scope core.ApplicationScope, id core.Id) (*core.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.entities[scope][id]; ok {
		return e, nil
	}
	return nil, errors.Newf(errors.ErrEntityNotFound, 404, "entity %s in app %s", id, scope)
}

func (g *MemoryGraph) EdgeManager(scope core.ApplicationScope) Manager {
	return &memoryManager{graph: g, scope: scope}
}

func (g *MemoryGraph) Applications(_ context.Context) ([]core.ApplicationScope, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	apps := make([]core.ApplicationScope, len(g.apps))
	copy(apps, g.apps)
	return apps, nil
}

func (g *MemoryGraph) EdgesToEntities(ctx context.Context, apps []core.ApplicationScope, filter EdgeFilter) (<-chan core.EdgeScope, <-chan error) {
	out := make(chan core.EdgeScope)
	errc := make(chan error, 1)

	if len(apps) == 0 {
		apps, _ = g.Applications(ctx)
	}

	go func() {
		defer close(out)
		defer close(errc)
		for _, app := range apps {
			g.mu.RLock()
			edges := make([]core.Edge, len(g.edges[app]))
			copy(edges, g.edges[app])
			g.mu.RUnlock()
			for _, e := range edges {
				if filter.Collection != "" && e.Type != core.CollectionEdgeType(filter.Collection) {
					continue
				}
				if filter.Since != 0 && e.Timestamp < filter.Since {
					continue
				}
				select {
				case out <- core.EdgeScope{Application: app, Edge: e}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()
	return out, errc
}

type memoryManager struct {
	graph *MemoryGraph
	scope core.ApplicationScope
}

func (m *memoryManager) EdgesToTarget(_ context.Context, target core.Id) ([]core.Edge, error) {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	var result []core.Edge
	for _, e := range m.graph.edges[m.scope] {
		if e.Target == target {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *memoryManager) EdgesFromSource(_ context.Context, source core.Id) ([]core.Edge, error) {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	var result []core.Edge
	for _, e := range m.graph.edges[m.scope] {
		if e.Source == source {
			result = append(result, e)
		}
	}
	return result, nil
}
