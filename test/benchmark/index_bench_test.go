// Package benchmark contains Go benchmarks for the indexing batch pipeline,
// version cache, and event queue, measuring throughput and allocation
// behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
)

func newIndexService(b *testing.B, batchSize int) (*indexing.Service, *graph.MemoryGraph) {
	b.Helper()
	memGraph := graph.NewMemoryGraph()
	memSearch := search.NewMemoryFactory()
	stores := mapstore.NewMemoryFactory()

	indexCfg := config.IndexConfig{BatchSize: batchSize, AliasPostfix: "alias", Shards: 6, Replicas: 1}
	settingsCfg := config.SettingsConfig{CacheSize: 1000, CacheTTL: time.Minute}
	versionCfg := config.VersionsConfig{MinInterval: time.Minute, CacheSize: 1000, CacheTTL: time.Minute}

	locs := location.NewFactory(indexCfg, nil)
	settingsCache := settings.NewSettingsCache(stores, nil, settingsCfg, nil)
	schemaCache := settings.NewSchemaCache(stores, nil, settingsCfg, nil)
	versionSvc := versions.NewService(stores, versionCfg, nil)

	svc := indexing.NewService(memGraph, memSearch, locs, versionSvc, settingsCache, schemaCache, indexCfg, nil)
	return svc, memGraph
}

func seedEntity(g *graph.MemoryGraph, scope core.ApplicationScope, collection string, edges int) *core.Entity {
	version, _ := uuid.NewUUID()
	entity := &core.Entity{
		ID:      core.Id{UUID: uuid.New(), Type: "user"},
		Version: version,
		Fields:  map[string]any{"name": "alice", "email": "alice@example.com", "age": 30},
	}
	g.PutEntity(scope, entity)
	g.WriteEdge(scope, core.Edge{
		Source: core.Id{UUID: scope.Application, Type: "application"},
		Type:   core.CollectionEdgeType(collection),
		Target: entity.ID,
	})
	for i := 1; i < edges; i++ {
		g.WriteEdge(scope, core.Edge{
			Source: core.Id{UUID: uuid.New(), Type: "group"},
			Type:   fmt.Sprintf("member-%d", i),
			Target: entity.ID,
		})
	}
	return entity
}

// BenchmarkIndexEntity measures full deferred-operation throughput as the
// number of edges scoping the entity grows.
func BenchmarkIndexEntity(b *testing.B) {
	for _, edges := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("edges_%d", edges), func(b *testing.B) {
			svc, memGraph := newIndexService(b, 1000)
			scope := core.ApplicationScope{Application: uuid.New()}
			entity := seedEntity(memGraph, scope, "users", edges)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				op := svc.IndexEntity(scope, entity)
				if _, err := op(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkVersionLookup measures a warm version cache hit.
func BenchmarkVersionLookup(b *testing.B) {
	stores := mapstore.NewMemoryFactory()
	cfg := config.VersionsConfig{MinInterval: time.Millisecond, CacheSize: 1000, CacheTTL: time.Hour}
	svc := versions.NewService(stores, cfg, nil)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()
	if _, err := svc.Update(ctx, scope); err != nil {
		b.Fatal(err)
	}
	if _, err := svc.GetVersion(ctx, scope, false); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.GetVersion(ctx, scope, false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkVersionLookupParallel measures concurrent cache hit throughput
// through the request-collapsing group.
func BenchmarkVersionLookupParallel(b *testing.B) {
	stores := mapstore.NewMemoryFactory()
	cfg := config.VersionsConfig{MinInterval: time.Millisecond, CacheSize: 1000, CacheTTL: time.Hour}
	svc := versions.NewService(stores, cfg, nil)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()
	if _, err := svc.Update(ctx, scope); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetVersion(ctx, scope, false); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkVersionedName measures name construction and parsing round trips.
func BenchmarkVersionedName(b *testing.B) {
	token := "00e72c0efde111eeb6bdf7aabefcdefd"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		name := versions.BuildVersionedName("users", token)
		base, _ := versions.ParseVersionedName(name)
		if base != "users" {
			b.Fatalf("parsed base %q", base)
		}
	}
}
