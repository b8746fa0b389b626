package asyncindex

import (
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

// Implementation selector values for config `async.impl`.
const (
	ImplLocal       = "local"
	ImplDistributed = "distributed"
)

// New selects a Service implementation from configuration. An unknown
// selector fails startup; silently falling back to the local variant would
// drop durability the operator asked for.
func New(cfg config.AsyncConfig, indexer *indexing.Service, loader graph.EntityLoader, queue, utilityQueue eventqueue.Queue, m *metrics.Metrics) (Service, error) {
	switch cfg.Impl {
	case ImplLocal:
		return newLocalService(indexer, loader, cfg), nil
	case ImplDistributed:
		if queue == nil || utilityQueue == nil {
			return nil, errors.Newf(errors.ErrInvalidInput, 500, "async impl %q requires index and utility queue backends", cfg.Impl)
		}
		return newQueuedService(queue, utilityQueue, indexer, loader, cfg, m), nil
	default:
		return nil, errors.Newf(errors.ErrInvalidInput, 500, "unknown async index impl %q (expected %s or %s)", cfg.Impl, ImplLocal, ImplDistributed)
	}
}
