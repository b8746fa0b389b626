package asyncindex

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// localService dispatches index work to an in-process worker pool. Nothing
// is persisted: pending work is lost if the process dies. Single-node and
// dev deployments only.
type localService struct {
	indexer *indexing.Service
	loader  graph.EntityLoader
	buffer  int
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	tasks   chan localTask
	wg      sync.WaitGroup
	senders sync.WaitGroup
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

type localTask struct {
	scope  core.ApplicationScope
	entity *core.Entity
}

func newLocalService(indexer *indexing.Service, loader graph.EntityLoader, cfg config.AsyncConfig) *localService {
	return &localService{
		indexer: indexer,
		loader:  loader,
		buffer:  cfg.Workers * 4,
		workers: cfg.Workers,
		logger:  slog.Default().With("component", "async-index", "impl", "local"),
	}
}

func (s *localService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.tasks = make(chan localTask, s.buffer)
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(s.tasks)
	}
	s.started = true
	s.logger.Info("local async index workers started", "workers", s.workers)
	return nil
}

func (s *localService) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	// Once started is false no new send can register; wait out the in-flight
	// ones before closing the channel, then let the workers drain it.
	s.senders.Wait()
	close(s.tasks)
	s.wg.Wait()
	s.cancel()
	return nil
}

func (s *localService) worker(tasks <-chan localTask) {
	defer s.wg.Done()
	for task := range tasks {
		if _, err := s.indexer.IndexEntity(task.scope, task.entity)(s.baseCtx); err != nil {
			// No durable queue to fall back on; the failure is logged and
			// the work is dropped.
			s.logger.Error("index dispatch failed",
				"application", task.scope.String(),
				"entity", task.entity.ID.String(),
				"error", err,
			)
		}
	}
}

func (s *localService) QueueEntityIndexUpdate(ctx context.Context, scope core.ApplicationScope, entity *core.Entity) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New(errors.ErrQueueBackend, 503, "local async index service is not running")
	}
	s.senders.Add(1)
	tasks := s.tasks
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case tasks <- localTask{scope: scope, entity: entity}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *localService) Index(ctx context.Context, scope core.EntityIDScope) error {
	return indexByID(ctx, s.loader, s.indexer, scope, uuid.Nil)
}
