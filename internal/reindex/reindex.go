// Package reindex is the bulk-reindex orchestrator: it streams every entity
// edge across the requested applications, invokes an index action per edge,
// and persists a resume cursor by wall-clock sampling rather than per item.
package reindex

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/logger"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

// resumeMapName scopes cursor and job-state entries under the management
// application.
const resumeMapName = "reindexresume"

const (
	statusKeySuffix  = ":status"
	countKeySuffix   = ":count"
	updatedKeySuffix = ":lastUpdated"
	cursorKeySuffix  = ":cursor"
)

// JobState is the persisted lifecycle of a reindex job.
type JobState string

const (
	StateStarted    JobState = "STARTED"
	StateInProgress JobState = "IN_PROGRESS"
	StateComplete   JobState = "COMPLETE"
	StateFailed     JobState = "FAILED"
	StateUnknown    JobState = "UNKNOWN"
)

// Action indexes one entity referenced by id. Bulk reindex streams ids; the
// action decides how the load-and-index happens.
type Action func(ctx context.Context, scope core.EntityIDScope) error

// Request scopes a reindex run. Zero values widen the scope: no application
// means all applications, no collection means all collections, no timestamp
// means all edges.
type Request struct {
	// Application restricts the run to one application when non-nil.
	Application *uuid.UUID
	// Collection restricts the run to one collection's membership edges.
	Collection string
	// UpdatedSince skips edges older than this epoch-millis timestamp.
	UpdatedSince int64
	// Cursor resumes a previous run. Supplying one fails today: cursors are
	// written for inspection, and the resume path is an acknowledged gap.
	Cursor string
}

// Job is a running reindex. Count is live; Done closes when the stream is
// exhausted, after which Err reports the terminal failure, if any.
type Job struct {
	ID      string
	Started time.Time

	count atomic.Int64
	err   atomic.Pointer[error]
	done  chan struct{}
}

func (j *Job) Count() int64          { return j.count.Load() }
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Err() error {
	if p := j.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Status is the persisted view of a job, readable from any process.
type Status struct {
	JobID       string    `json:"jobId"`
	State       JobState  `json:"state"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// CursorRecord is the serialized sampling state written to the map store.
type CursorRecord struct {
	JobID     string         `json:"jobId"`
	Edge      core.EdgeScope `json:"edge"`
	Processed int64          `json:"processed"`
	SampledAt int64          `json:"sampledAt"`
}

// Service orchestrates bulk reindex runs.
type Service struct {
	explorer graph.Explorer
	apps     graph.AppLister
	indexes  search.Factory
	locs     *location.Factory
	stores   mapstore.Factory
	settings *settings.Cache
	cfg      config.ReindexConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(
	explorer graph.Explorer,
	apps graph.AppLister,
	indexes search.Factory,
	locs *location.Factory,
	stores mapstore.Factory,
	settingsCache *settings.Cache,
	cfg config.ReindexConfig,
	m *metrics.Metrics,
) *Service {
	return &Service{
		explorer: explorer,
		apps:     apps,
		indexes:  indexes,
		locs:     locs,
		stores:   stores,
		settings: settingsCache,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "reindex"),
	}
}

// Reindex starts a bulk run and returns immediately; the stream is driven
// in the background. The per-edge action is typically the async index
// service's load-and-index path.
func (s *Service) Reindex(ctx context.Context, req Request, action Action) (*Job, error) {
	if req.Cursor != "" {
		return nil, errors.Newf(errors.ErrResumeUnsupported, 400, "resuming a reindex from a cursor is not supported")
	}
	if action == nil {
		return nil, errors.Newf(errors.ErrInvalidInput, 400, "reindex requires an index action")
	}

	apps, err := s.resolveApps(ctx, req)
	if err != nil {
		return nil, err
	}
	// Make sure every physical index exists before streaming writes at it,
	// and publish each location so peer regions resolve the same index.
	for _, app := range apps {
		strategy := s.locs.ReplicatedStrategyFor(app)
		if err := s.indexes.EntityIndex(strategy).Initialize(ctx); err != nil {
			return nil, err
		}
		if pub, ok := strategy.(location.Publisher); ok {
			pub.Publish(ctx)
		}
	}

	job := &Job{
		ID:      strings.ReplaceAll(uuid.New().String(), "-", ""),
		Started: time.Now(),
		done:    make(chan struct{}),
	}

	runCtx := logger.WithJobID(context.WithoutCancel(ctx), job.ID)
	s.writeStatus(runCtx, job.ID, StateStarted, 0)
	go s.run(runCtx, job, apps, req, action)

	s.logger.Info("reindex started",
		"job_id", job.ID,
		"applications", len(apps),
		"collection", req.Collection,
	)
	return job, nil
}

// Status reads a job's persisted state. Unknown jobs (expired or never
// started) report StateUnknown rather than an error.
func (s *Service) Status(ctx context.Context, jobID string) (Status, error) {
	store := s.resumeStore()
	state, err := store.GetString(ctx, jobID+statusKeySuffix)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return Status{JobID: jobID, State: StateUnknown}, nil
		}
		return Status{}, err
	}
	status := Status{JobID: jobID, State: JobState(state)}
	if count, err := store.GetLong(ctx, jobID+countKeySuffix); err == nil {
		status.Count = count
	}
	if updated, err := store.GetLong(ctx, jobID+updatedKeySuffix); err == nil {
		status.LastUpdated = time.UnixMilli(updated)
	}
	return status, nil
}

// Cursor returns the latest sampled cursor for a job, for operator
// inspection. ok is false when none was written or it has expired.
func (s *Service) Cursor(ctx context.Context, jobID string) (CursorRecord, bool, error) {
	raw, err := s.resumeStore().GetString(ctx, jobID+cursorKeySuffix)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return CursorRecord{}, false, nil
		}
		return CursorRecord{}, false, err
	}
	var rec CursorRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return CursorRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Service) resolveApps(ctx context.Context, req Request) ([]core.ApplicationScope, error) {
	if req.Application != nil {
		return []core.ApplicationScope{{Application: *req.Application}}, nil
	}
	return s.apps.Applications(ctx)
}

// run drives the fan-out pipeline: one producer, two consumers. Both
// consumer channels are attached before the dispatcher starts pulling from
// the producer, so the index path and the sampling path see the same edges.
func (s *Service) run(ctx context.Context, job *Job, apps []core.ApplicationScope, req Request, action Action) {
	defer close(job.done)

	group, groupCtx := errgroup.WithContext(ctx)

	filter := graph.EdgeFilter{Collection: req.Collection, Since: req.UpdatedSince}
	edges, produceErrs := s.explorer.EdgesToEntities(groupCtx, apps, filter)

	indexCh := make(chan core.EdgeScope, s.cfg.BufferSize)
	sampleCh := make(chan core.EdgeScope, s.cfg.BufferSize)

	group.Go(func() error {
		return s.consumeIndex(groupCtx, job, indexCh, action)
	})
	group.Go(func() error {
		s.consumeSamples(groupCtx, job, sampleCh)
		return nil
	})
	// Dispatcher starts last: both consumers are attached, nothing can be
	// missed by either.
	group.Go(func() error {
		defer close(indexCh)
		defer close(sampleCh)
		for edge := range edges {
			select {
			case indexCh <- edge:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			select {
			case sampleCh <- edge:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	err := group.Wait()
	if err == nil {
		if produceErr := <-produceErrs; produceErr != nil {
			err = produceErr
		}
	}

	if err != nil {
		job.err.Store(&err)
		s.writeStatus(ctx, job.ID, StateFailed, job.Count())
		s.logger.Error("reindex failed", "job_id", job.ID, "processed", job.Count(), "error", err)
		return
	}

	s.writeStatus(ctx, job.ID, StateComplete, job.Count())
	s.stampCollection(ctx, req)
	s.logger.Info("reindex complete", "job_id", job.ID, "processed", job.Count())
}

func (s *Service) consumeIndex(ctx context.Context, job *Job, edges <-chan core.EdgeScope, action Action) error {
	for edge := range edges {
		scope := core.EntityIDScope{Application: edge.Application, ID: edge.Edge.Target}
		if err := action(ctx, scope); err != nil {
			return err
		}
		job.count.Add(1)
		if s.metrics != nil {
			s.metrics.ReindexEdgesTotal.Inc()
		}
	}
	return nil
}

// consumeSamples persists the newest seen edge as the job's cursor once per
// sample interval. One write per interval, not per edge: cursor persistence
// must not amplify a bulk job's write load.
func (s *Service) consumeSamples(ctx context.Context, job *Job, edges <-chan core.EdgeScope) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	var latest *core.EdgeScope
	var dirty bool
	for {
		select {
		case edge, ok := <-edges:
			if !ok {
				if dirty {
					s.writeCursor(ctx, job, latest)
					s.writeStatus(ctx, job.ID, StateInProgress, job.Count())
				}
				return
			}
			latest = &edge
			dirty = true
		case <-ticker.C:
			if dirty {
				s.writeCursor(ctx, job, latest)
				s.writeStatus(ctx, job.ID, StateInProgress, job.Count())
				dirty = false
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) writeCursor(ctx context.Context, job *Job, edge *core.EdgeScope) {
	rec := CursorRecord{
		JobID:     job.ID,
		Edge:      *edge,
		Processed: job.Count(),
		SampledAt: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("cursor serialization failed", "job_id", job.ID, "error", err)
		return
	}
	if err := s.resumeStore().PutStringTTL(ctx, job.ID+cursorKeySuffix, string(raw), s.cfg.CursorTTL); err != nil {
		s.logger.Error("cursor write failed", "job_id", job.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.CursorWritesTotal.Inc()
	}
}

func (s *Service) writeStatus(ctx context.Context, jobID string, state JobState, count int64) {
	store := s.resumeStore()
	now := time.Now().UnixMilli()
	if err := store.PutStringTTL(ctx, jobID+statusKeySuffix, string(state), s.cfg.CursorTTL); err != nil {
		s.logger.Error("status write failed", "job_id", jobID, "error", err)
		return
	}
	if err := store.PutLong(ctx, jobID+countKeySuffix, count); err != nil {
		s.logger.Error("count write failed", "job_id", jobID, "error", err)
	}
	if err := store.PutLong(ctx, jobID+updatedKeySuffix, now); err != nil {
		s.logger.Error("lastUpdated write failed", "job_id", jobID, "error", err)
	}
}

// stampCollection folds a lastReindexed timestamp into the collection's
// settings after a successful collection-scoped run.
func (s *Service) stampCollection(ctx context.Context, req Request) {
	if s.settings == nil || req.Application == nil || req.Collection == "" {
		return
	}
	if err := s.settings.StampField(ctx, *req.Application, req.Collection, "lastReindexed", time.Now().UnixMilli()); err != nil {
		s.logger.Warn("lastReindexed stamp failed",
			"application", req.Application.String(),
			"collection", req.Collection,
			"error", err,
		)
	}
}

func (s *Service) resumeStore() mapstore.Store {
	return s.stores.Scope(mapstore.Scope{
		Application: core.ManagementApplicationID,
		Name:        resumeMapName,
	})
}
