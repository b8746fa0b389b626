package collection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/search"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

// Worker consumes collection version events and removes the old
// generation's documents from the search engine, batched so one event never
// turns into one unbounded delete call.
type Worker struct {
	queue       eventqueue.Queue
	explorer    graph.Explorer
	indexes     search.Factory
	locs        *location.Factory
	batchSize   int
	readTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(queue eventqueue.Queue, explorer graph.Explorer, indexes search.Factory, locs *location.Factory, cfg config.AsyncConfig, m *metrics.Metrics) *Worker {
	return &Worker{
		queue:       queue,
		explorer:    explorer,
		indexes:     indexes,
		locs:        locs,
		batchSize:   cfg.DeletesPerEvent,
		readTimeout: cfg.ReadTimeout,
		metrics:     m,
		logger:      slog.Default().With("component", "collection-worker"),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consume(workerCtx)
	}()
	w.started = true
	w.logger.Info("collection task worker started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.queue.Take(ctx, 1, w.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue take failed", "error", err)
			continue
		}
		for _, msg := range msgs {
			if err := w.process(ctx, msg); err != nil {
				w.logger.Error("collection task failed, leaving for redelivery",
					"message", msg.ID, "error", err)
				continue
			}
			if err := w.queue.Ack(ctx, msg); err != nil {
				w.logger.Error("ack failed, task will be redelivered",
					"message", msg.ID, "error", err)
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, msg eventqueue.Message) error {
	var event core.CollectionVersionEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		// Left unacked; the queue's retry policy owns redelivery.
		if w.metrics != nil {
			w.metrics.QueueDecodeFailures.WithLabelValues("delete").Inc()
		}
		return errors.Newf(errors.ErrSerialization, 500, "decoding collection event %s: %v", msg.ID, err)
	}
	removed, err := w.removeOldGeneration(ctx, event)
	if err != nil {
		return err
	}
	w.logger.Info("old collection generation removed",
		"application", event.Application.String(),
		"collection", event.Collection,
		"old_version", event.OldVersion,
		"kind", string(event.Kind),
		"documents", removed,
	)
	return nil
}

// removeOldGeneration walks the collection's membership edges up to the
// event's end timestamp and deindexes the documents written under the old
// versioned edge name. Edges written after the version swap belong to the
// new generation and are left alone.
func (w *Worker) removeOldGeneration(ctx context.Context, event core.CollectionVersionEvent) (int, error) {
	oldEdgeName := core.CollectionEdgeType(versions.BuildVersionedName(event.Collection, event.OldVersion))

	// Deletes target the moment of the version swap: any document version
	// created before EndTimestamp is older than this marker.
	deleteMarker, err := uuid.NewUUID()
	if err != nil {
		deleteMarker = uuid.New()
	}

	index := w.indexes.EntityIndex(w.locs.StrategyFor(event.Application))
	batch := index.CreateBatch()
	removed := 0

	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		msg, err := batch.Execute(ctx)
		if err != nil {
			return err
		}
		removed += msg.Deletes
		if w.metrics != nil {
			w.metrics.DeindexWritesTotal.Add(float64(msg.Deletes))
		}
		batch = index.CreateBatch()
		return nil
	}

	edges, errc := w.explorer.EdgesToEntities(ctx, []core.ApplicationScope{event.Application}, graph.EdgeFilter{Collection: event.Collection})
	for scope := range edges {
		if event.EndTimestamp != 0 && scope.Edge.Timestamp > event.EndTimestamp {
			continue
		}
		edge := core.IndexEdgeFromSource(scope.Edge)
		edge.Name = oldEdgeName
		batch.Deindex(edge, scope.Edge.Target, deleteMarker)
		if batch.Size() >= w.batchSize {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := <-errc; err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}
