package reindex

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

type fixture struct {
	svc      *Service
	graph    *graph.MemoryGraph
	stores   *mapstore.MemoryFactory
	settings *settings.Cache
}

func newFixture(t *testing.T, cfg config.ReindexConfig) *fixture {
	t.Helper()
	memGraph := graph.NewMemoryGraph()
	stores := mapstore.NewMemoryFactory()
	settingsCache := settings.NewSettingsCache(stores, nil, config.SettingsConfig{CacheSize: 100, CacheTTL: time.Minute}, nil)
	locs := location.NewFactory(config.IndexConfig{AliasPostfix: "alias", Shards: 6, Replicas: 1}, nil)

	svc := NewService(memGraph, memGraph, search.NewMemoryFactory(), locs, stores, settingsCache, cfg, nil)
	return &fixture{svc: svc, graph: memGraph, stores: stores, settings: settingsCache}
}

func (f *fixture) seedEdges(scope core.ApplicationScope, collection string, n int) {
	for i := 0; i < n; i++ {
		f.graph.WriteEdge(scope, core.Edge{
			Source:    core.Id{UUID: scope.Application, Type: "application"},
			Type:      core.CollectionEdgeType(collection),
			Target:    core.Id{UUID: uuid.New(), Type: core.Singularize(collection)},
			Timestamp: int64(i),
		})
	}
}

func waitDone(t *testing.T, job *Job, timeout time.Duration) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(timeout):
		t.Fatalf("job %s did not finish within %v", job.ID, timeout)
	}
}

func TestReindexRejectsCursor(t *testing.T) {
	f := newFixture(t, config.ReindexConfig{SampleInterval: time.Second, BufferSize: 10, CursorTTL: time.Hour})
	_, err := f.svc.Reindex(context.Background(), Request{Cursor: "opaque"}, func(context.Context, core.EntityIDScope) error { return nil })
	if !stderrors.Is(err, errors.ErrResumeUnsupported) {
		t.Fatalf("expected resume-unsupported error, got %v", err)
	}
}

func TestReindexInvokesActionPerEdge(t *testing.T) {
	f := newFixture(t, config.ReindexConfig{SampleInterval: 10 * time.Millisecond, BufferSize: 100, CursorTTL: time.Hour})
	scope := core.ApplicationScope{Application: uuid.New()}
	const n = 500
	f.seedEdges(scope, "things", n)

	var calls atomic.Int64
	job, err := f.svc.Reindex(context.Background(), Request{Application: &scope.Application}, func(_ context.Context, s core.EntityIDScope) error {
		if s.Application != scope {
			t.Errorf("action received scope %v", s.Application)
		}
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	waitDone(t, job, 5*time.Second)

	if err := job.Err(); err != nil {
		t.Fatalf("job error: %v", err)
	}
	if calls.Load() != n {
		t.Fatalf("action invoked %d times, want %d", calls.Load(), n)
	}
	if job.Count() != n {
		t.Fatalf("job count = %d, want %d", job.Count(), n)
	}
}

func TestReindexSamplingWritesFewCursors(t *testing.T) {
	const (
		n        = 10000
		interval = 30 * time.Millisecond
	)
	f := newFixture(t, config.ReindexConfig{SampleInterval: interval, BufferSize: 1000, CursorTTL: time.Hour})
	scope := core.ApplicationScope{Application: uuid.New()}
	f.seedEdges(scope, "things", n)

	var calls atomic.Int64
	job, err := f.svc.Reindex(context.Background(), Request{Application: &scope.Application}, func(context.Context, core.EntityIDScope) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	waitDone(t, job, 30*time.Second)

	if calls.Load() != n {
		t.Fatalf("action invoked %d times, want %d", calls.Load(), n)
	}

	// Cursor writes are bounded by elapsed time over the sample interval
	// (plus the final flush), nowhere near one per edge.
	store := f.stores.Scope(mapstore.Scope{Application: core.ManagementApplicationID, Name: resumeMapName})
	writes := store.(mapstore.Counter).Writes()
	if writes >= n/10 {
		t.Fatalf("map store writes = %d for %d edges; sampling is not bounding cursor persistence", writes, n)
	}

	rec, ok, err := f.svc.Cursor(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("Cursor = (%v, %v)", ok, err)
	}
	if rec.JobID != job.ID {
		t.Fatalf("cursor job id = %q", rec.JobID)
	}
	if rec.Edge.Application != scope {
		t.Fatalf("cursor application = %v", rec.Edge.Application)
	}
}

func TestReindexStatusLifecycle(t *testing.T) {
	f := newFixture(t, config.ReindexConfig{SampleInterval: 10 * time.Millisecond, BufferSize: 100, CursorTTL: time.Hour})
	scope := core.ApplicationScope{Application: uuid.New()}
	f.seedEdges(scope, "things", 50)
	ctx := context.Background()

	unknown, err := f.svc.Status(ctx, "nosuchjob")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if unknown.State != StateUnknown {
		t.Fatalf("unknown job state = %q", unknown.State)
	}

	job, err := f.svc.Reindex(ctx, Request{Application: &scope.Application}, func(context.Context, core.EntityIDScope) error { return nil })
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	waitDone(t, job, 5*time.Second)

	status, err := f.svc.Status(ctx, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateComplete {
		t.Fatalf("state = %q, want %q", status.State, StateComplete)
	}
	if status.Count != 50 {
		t.Fatalf("count = %d, want 50", status.Count)
	}
	if status.LastUpdated.IsZero() {
		t.Fatal("lastUpdated not recorded")
	}
}

func TestReindexActionFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, config.ReindexConfig{SampleInterval: 10 * time.Millisecond, BufferSize: 10, CursorTTL: time.Hour})
	scope := core.ApplicationScope{Application: uuid.New()}
	f.seedEdges(scope, "things", 20)
	ctx := context.Background()

	boom := stderrors.New("engine unavailable")
	job, err := f.svc.Reindex(ctx, Request{Application: &scope.Application}, func(context.Context, core.EntityIDScope) error {
		return boom
	})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	waitDone(t, job, 5*time.Second)

	if !stderrors.Is(job.Err(), boom) {
		t.Fatalf("job error = %v, want %v", job.Err(), boom)
	}
	status, err := f.svc.Status(ctx, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateFailed {
		t.Fatalf("state = %q, want %q", status.State, StateFailed)
	}
}

func TestReindexCollectionFilterAndStamp(t *testing.T) {
	f := newFixture(t, config.ReindexConfig{SampleInterval: 10 * time.Millisecond, BufferSize: 100, CursorTTL: time.Hour})
	scope := core.ApplicationScope{Application: uuid.New()}
	f.seedEdges(scope, "things", 30)
	f.seedEdges(scope, "others", 15)
	ctx := context.Background()

	if err := f.settings.Put(ctx, scope.Application, "things", `{"fields":"all"}`); err != nil {
		t.Fatalf("settings put: %v", err)
	}

	var calls atomic.Int64
	job, err := f.svc.Reindex(ctx, Request{Application: &scope.Application, Collection: "things"}, func(context.Context, core.EntityIDScope) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	waitDone(t, job, 5*time.Second)

	if calls.Load() != 30 {
		t.Fatalf("action invoked %d times, want only the filtered collection's 30", calls.Load())
	}

	doc, found, err := f.settings.Get(ctx, scope.Application, "things")
	if err != nil || !found {
		t.Fatalf("settings get = (%v, %v)", found, err)
	}
	if !containsField(doc, "lastReindexed") {
		t.Fatalf("lastReindexed not stamped into settings: %s", doc)
	}
}

func containsField(doc, field string) bool {
	return strings.Contains(doc, `"`+field+`"`)
}
