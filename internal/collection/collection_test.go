package collection

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

type fixture struct {
	svc      *Service
	worker   *Worker
	queue    *eventqueue.MemoryQueue
	graph    *graph.MemoryGraph
	search   *search.MemoryFactory
	locs     *location.Factory
	versions *versions.Service
	settings *settings.Cache
	indexer  *indexing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memGraph := graph.NewMemoryGraph()
	memSearch := search.NewMemoryFactory()
	stores := mapstore.NewMemoryFactory()
	queue := eventqueue.NewMemoryQueue(30 * time.Second)

	indexCfg := config.IndexConfig{BatchSize: 1000, AliasPostfix: "alias", Shards: 6, Replicas: 1}
	settingsCfg := config.SettingsConfig{CacheSize: 100, CacheTTL: time.Minute}
	versionCfg := config.VersionsConfig{MinInterval: time.Minute, CacheSize: 100, CacheTTL: time.Minute}
	asyncCfg := config.AsyncConfig{DeletesPerEvent: 100, ReadTimeout: 50 * time.Millisecond}

	locs := location.NewFactory(indexCfg, nil)
	versionSvc := versions.NewService(stores, versionCfg, nil)
	settingsCache := settings.NewSettingsCache(stores, nil, settingsCfg, nil)
	schemaCache := settings.NewSchemaCache(stores, nil, settingsCfg, nil)
	indexer := indexing.NewService(memGraph, memSearch, locs, versionSvc, settingsCache, schemaCache, indexCfg, nil)

	return &fixture{
		svc:      NewService(versionSvc, settingsCache, queue),
		worker:   NewWorker(queue, memGraph, memSearch, locs, asyncCfg, nil),
		queue:    queue,
		graph:    memGraph,
		search:   memSearch,
		locs:     locs,
		versions: versionSvc,
		settings: settingsCache,
		indexer:  indexer,
	}
}

func (f *fixture) index(scope core.ApplicationScope) *search.MemoryIndex {
	return f.search.EntityIndex(f.locs.StrategyFor(scope)).(*search.MemoryIndex)
}

func (f *fixture) seedIndexedEntity(t *testing.T, scope core.ApplicationScope, collection string) *core.Entity {
	t.Helper()
	version, _ := uuid.NewUUID()
	entity := &core.Entity{
		ID:      core.Id{UUID: uuid.New(), Type: core.Singularize(collection)},
		Version: version,
		Fields:  map[string]any{"name": "n"},
	}
	f.graph.PutEntity(scope, entity)
	f.graph.WriteEdge(scope, core.Edge{
		Source:    core.Id{UUID: scope.Application, Type: "application"},
		Type:      core.CollectionEdgeType(collection),
		Target:    entity.ID,
		Timestamp: time.Now().UnixMilli(),
	})
	if _, err := f.indexer.IndexEntity(scope, entity)(context.Background()); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	return entity
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDeleteSwapsVersionAndEnqueues(t *testing.T) {
	f := newFixture(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "widgets"}
	ctx := context.Background()

	result, err := f.svc.Delete(ctx, scope)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.OldVersion != "" {
		t.Fatalf("first delete old version = %q, want empty", result.OldVersion)
	}
	if result.NewVersion == "" {
		t.Fatal("new version not minted")
	}
	if result.Kind != core.TaskCollectionDelete {
		t.Fatalf("kind = %q", result.Kind)
	}
	if f.queue.Depth() != 1 {
		t.Fatalf("queue depth = %d, want 1", f.queue.Depth())
	}

	// New reads resolve against the new version immediately.
	name, err := f.versions.VersionedName(ctx, scope, false)
	if err != nil {
		t.Fatalf("VersionedName: %v", err)
	}
	if name != versions.BuildVersionedName("widgets", result.NewVersion) {
		t.Fatalf("active name = %q", name)
	}
}

func TestDeleteTooSoonEnqueuesNothing(t *testing.T) {
	f := newFixture(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "widgets"}
	ctx := context.Background()

	if _, err := f.svc.Delete(ctx, scope); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	// Immediately again, well inside the minimum interval.
	_, err := f.svc.Delete(ctx, scope)
	if !stderrors.Is(err, errors.ErrTooSoon) {
		t.Fatalf("expected too-soon failure, got %v", err)
	}
	if f.queue.Depth() != 1 {
		t.Fatalf("queue depth = %d, a rejected bump must not enqueue", f.queue.Depth())
	}
}

func TestClearStampsSettings(t *testing.T) {
	f := newFixture(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "widgets"}
	ctx := context.Background()

	if err := f.settings.Put(ctx, scope.Application, "widgets", `{"fields":"all"}`); err != nil {
		t.Fatalf("settings put: %v", err)
	}
	result, err := f.svc.Clear(ctx, scope)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if result.Kind != core.TaskCollectionClear {
		t.Fatalf("kind = %q", result.Kind)
	}

	doc, found, err := f.settings.Get(ctx, scope.Application, "widgets")
	if err != nil || !found {
		t.Fatalf("settings get = (%v, %v)", found, err)
	}
	if !strings.Contains(doc, `"lastCollectionClear"`) {
		t.Fatalf("lastCollectionClear not stamped: %s", doc)
	}
}

func TestVersionSwapThenOldDataRemoved(t *testing.T) {
	f := newFixture(t)
	app := core.ApplicationScope{Application: uuid.New()}
	scope := core.CollectionScope{Application: app.Application, Collection: "widgets"}
	ctx := context.Background()

	// Entity A indexed under the unversioned collection name.
	f.seedIndexedEntity(t, app, "widgets")
	if f.index(app).DocCount() != 1 {
		t.Fatal("expected one document before the swap")
	}
	docs := f.index(app).Documents()
	if docs[0].Edge.Name != core.CollectionEdgeType("widgets") {
		t.Fatalf("pre-swap edge name = %q", docs[0].Edge.Name)
	}

	result, err := f.svc.Delete(ctx, scope)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// The swap alone changes the active read target.
	active, err := f.versions.VersionedName(ctx, scope, true)
	if err != nil {
		t.Fatalf("VersionedName: %v", err)
	}
	if active == "widgets" {
		t.Fatal("active name still the old generation")
	}
	if active != versions.BuildVersionedName("widgets", result.NewVersion) {
		t.Fatalf("active name = %q", active)
	}

	// The background job removes the orphaned documents.
	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("worker start: %v", err)
	}
	defer f.worker.Stop()
	waitFor(t, 5*time.Second, func() bool { return f.index(app).DocCount() == 0 })
	waitFor(t, 5*time.Second, func() bool { return f.queue.Depth() == 0 })
}
