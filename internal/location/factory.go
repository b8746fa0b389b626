package location

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/redis"
)

// Factory picks the right strategy variant for a scope.
type Factory struct {
	cfg    config.IndexConfig
	redis  *redis.Client
	logger *slog.Logger
}

// NewFactory creates a Factory. redis may be nil; replicated strategies are
// then plain pass-throughs.
func NewFactory(cfg config.IndexConfig, redisClient *redis.Client) *Factory {
	return &Factory{
		cfg:    cfg,
		redis:  redisClient,
		logger: slog.Default().With("component", "index-location"),
	}
}

// StrategyFor returns the management strategy for the management application
// and the per-application strategy otherwise.
func (f *Factory) StrategyFor(scope core.ApplicationScope) Strategy {
	if scope.IsManagement() {
		return newManagementStrategy(f.cfg)
	}
	return newApplicationStrategy(scope, f.cfg)
}

// ReplicatedStrategyFor wraps the scope's strategy so that its location
// metadata is published for peer regions.
func (f *Factory) ReplicatedStrategyFor(scope core.ApplicationScope) Strategy {
	return &replicatedStrategy{delegate: f.StrategyFor(scope), factory: f}
}

// Publisher is implemented by strategies that mirror their location metadata
// to the shared cache.
type Publisher interface {
	Publish(ctx context.Context)
}

// locationRecord is the JSON document published to the shared cache so peer
// regions resolve the same physical index.
type locationRecord struct {
	RootName   string `json:"rootName"`
	ReadAlias  string `json:"readAlias"`
	WriteAlias string `json:"writeAlias"`
	Shards     int    `json:"shards"`
	Replicas   int    `json:"replicas"`
}

// replicatedStrategy is a pass-through wrapper that mirrors the delegate's
// location metadata into the shared cache on Publish.
type replicatedStrategy struct {
	delegate Strategy
	factory  *Factory
}

func (s *replicatedStrategy) Scope() core.ApplicationScope { return s.delegate.Scope() }
func (s *replicatedStrategy) RootName() string             { return s.delegate.RootName() }
func (s *replicatedStrategy) ReadAlias() string            { return s.delegate.ReadAlias() }
func (s *replicatedStrategy) WriteAlias() string           { return s.delegate.WriteAlias() }
func (s *replicatedStrategy) Shards() int                  { return s.delegate.Shards() }
func (s *replicatedStrategy) Replicas() int                { return s.delegate.Replicas() }
func (s *replicatedStrategy) Key() string                  { return s.delegate.Key() }

// Publish writes the location metadata to the shared cache. Publication
// failures are logged, not fatal; peers fall back to computing the location
// locally.
func (s *replicatedStrategy) Publish(ctx context.Context) {
	if s.factory.redis == nil {
		return
	}
	record := locationRecord{
		RootName:   s.RootName(),
		ReadAlias:  s.ReadAlias(),
		WriteAlias: s.WriteAlias(),
		Shards:     s.Shards(),
		Replicas:   s.Replicas(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		s.factory.logger.Error("marshaling location record", "error", err)
		return
	}
	key := "location:" + s.Scope().Application.String()
	if err := s.factory.redis.Set(ctx, key, data, 0); err != nil {
		s.factory.logger.Warn("publishing location record failed", "key", key, "error", err)
	}
}
