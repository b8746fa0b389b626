package asyncindex

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
	"github.com/tenantgrid/index-pipeline/pkg/resilience"
)

// maxTake caps how many messages one worker pulls per round trip. Small on
// purpose: a large take amplifies redelivery after a worker crash.
const maxTake = 10

// rejectedRetryAttempts bounds the fixed-delay retry when the search
// backend rejects a batch under load.
const rejectedRetryAttempts = 3

// queuedService is the distributed async index service: events are offered
// to a durable queue and consumed by a worker pool, each message
// acknowledged only after the index write succeeds. Delivery is
// at-least-once; indexing is idempotent by entity version, so duplicates
// converge.
type queuedService struct {
	queue       eventqueue.Queue
	utility     eventqueue.Queue
	indexer     *indexing.Service
	loader      graph.EntityLoader
	workers     int
	readTimeout time.Duration
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func newQueuedService(queue, utility eventqueue.Queue, indexer *indexing.Service, loader graph.EntityLoader, cfg config.AsyncConfig, m *metrics.Metrics) *queuedService {
	return &queuedService{
		queue:       queue,
		utility:     utility,
		indexer:     indexer,
		loader:      loader,
		workers:     cfg.Workers,
		readTimeout: cfg.ReadTimeout,
		retry:       resilience.FixedRetry(rejectedRetryAttempts, cfg.RejectedRetryWait),
		breaker:     resilience.NewCircuitBreaker("index-batch", resilience.CircuitBreakerConfig{}),
		metrics:     m,
		logger:      slog.Default().With("component", "async-index", "impl", "distributed"),
	}
}

func (s *queuedService) QueueEntityIndexUpdate(ctx context.Context, scope core.ApplicationScope, entity *core.Entity) error {
	event := core.IndexEntityEvent{
		Application:   scope,
		EntityID:      entity.ID,
		EntityVersion: entity.Version,
		CreatedAt:     time.Now().UnixMilli(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.queue.Offer(ctx, entity.ID.UUID.String(), body); err != nil {
		return errors.Newf(errors.ErrQueueBackend, 503, "offering index event: %v", err)
	}
	return nil
}

// Index schedules a load-and-index through the utility queue. Bulk reindex
// streams through here, so it gets its own topic and workers rather than
// competing with live index events.
func (s *queuedService) Index(ctx context.Context, scope core.EntityIDScope) error {
	event := core.IndexEntityEvent{
		Application: scope.Application,
		EntityID:    scope.ID,
		CreatedAt:   time.Now().UnixMilli(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.utility.Offer(ctx, scope.ID.UUID.String(), body); err != nil {
		return errors.Newf(errors.ErrQueueBackend, 503, "offering utility index event: %v", err)
	}
	return nil
}

func (s *queuedService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.group, workerCtx = errgroup.WithContext(workerCtx)
	for i := 0; i < s.workers; i++ {
		s.group.Go(func() error {
			s.consume(workerCtx, s.queue, "index")
			return nil
		})
		s.group.Go(func() error {
			s.consume(workerCtx, s.utility, "utility")
			return nil
		})
	}
	s.started = true
	s.logger.Info("distributed async index workers started", "workers", s.workers)
	return nil
}

func (s *queuedService) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil {
		return err
	}
	if err := s.queue.Close(); err != nil {
		return err
	}
	return s.utility.Close()
}

func (s *queuedService) consume(ctx context.Context, queue eventqueue.Queue, label string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := queue.Take(ctx, maxTake, s.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("queue take failed", "error", err)
			continue
		}
		for _, msg := range msgs {
			if err := s.process(ctx, msg, label); err != nil {
				// Left unacked: the queue redelivers after its visibility
				// timeout and another worker retries.
				s.logger.Error("index event failed, leaving for redelivery",
					"message", msg.ID, "error", err)
				continue
			}
			if err := queue.Ack(ctx, msg); err != nil {
				s.logger.Error("ack failed, event will be redelivered",
					"message", msg.ID, "error", err)
			}
		}
	}
}

func (s *queuedService) process(ctx context.Context, msg eventqueue.Message, label string) error {
	var event core.IndexEntityEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		// Left unacked: the queue's own retry policy owns redelivery of
		// malformed payloads. The counter is the operator signal.
		if s.metrics != nil {
			s.metrics.QueueDecodeFailures.WithLabelValues(label).Inc()
		}
		return errors.Newf(errors.ErrSerialization, 500, "decoding index event %s: %v", msg.ID, err)
	}

	scope := core.EntityIDScope{Application: event.Application, ID: event.EntityID}

	// Only backend rejection gets the fixed-delay retry; any other failure
	// is returned as-is and goes back to the queue for redelivery.
	var permanent error
	err := resilience.Retry(ctx, "index-entity", s.retry, func() error {
		err := s.breaker.Execute(func() error {
			return indexByID(ctx, s.loader, s.indexer, scope, event.EntityVersion)
		})
		if err != nil && !stderrors.Is(err, errors.ErrIndexRejected) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	return err
}
