package version

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

const (
	versionMapName  = "collectionversions"
	versionSuffix   = ".version"
	changedAtSuffix = ".lastChanged"
	cacheName       = "collection-versions"
)

// Service is the sole mutation path for collection-version state. It holds a
// bounded, write-expiring local cache in front of the map store; staleness is
// bounded by the cache TTL and shared across all lookups in this process.
type Service struct {
	stores      mapstore.Factory
	cache       *expirable.LRU[string, string]
	minInterval time.Duration
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates the version service with an explicit cache policy. The
// cache is owned by the service; Close is EvictAll.
func NewService(stores mapstore.Factory, cfg config.VersionsConfig, m *metrics.Metrics) *Service {
	return &Service{
		stores:      stores,
		cache:       expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		minInterval: cfg.MinInterval,
		metrics:     m,
		logger:      slog.Default().With("component", "collection-versions"),
		now:         time.Now,
	}
}

// GetVersion returns the scope's current version token, empty string when the
// collection has never been versioned. bypassCache forces a store read.
func (s *Service) GetVersion(ctx context.Context, scope core.CollectionScope, bypassCache bool) (string, error) {
	cacheKey := scope.String()
	if !bypassCache {
		if v, ok := s.cache.Get(cacheKey); ok {
			s.countCache(true)
			return v, nil
		}
	}
	s.countCache(false)

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		version, err := s.store(scope).GetString(ctx, scope.Collection+versionSuffix)
		if err != nil {
			if stderrors.Is(err, errors.ErrKeyNotFound) {
				// Cache the empty token explicitly so repeated lookups for
				// never-versioned collections skip the store.
				s.cache.Add(cacheKey, "")
				return "", nil
			}
			return "", err
		}
		s.cache.Add(cacheKey, version)
		return version, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// VersionedName returns the scope's physical collection name: the bare name
// when unversioned, otherwise name + separator + version.
func (s *Service) VersionedName(ctx context.Context, scope core.CollectionScope, bypassCache bool) (string, error) {
	version, err := s.GetVersion(ctx, scope, bypassCache)
	if err != nil {
		return "", err
	}
	return BuildVersionedName(scope.Collection, version), nil
}

// Update mints a new time-ordered version token for the scope and returns
// the previous one so the caller can target the old generation's data for
// cleanup. It fails with a TooSoonError when the last change is more recent
// than the configured minimum interval; this throttle is cooperative, not a
// distributed lock.
func (s *Service) Update(ctx context.Context, scope core.CollectionScope) (string, error) {
	lastChanged, ok, err := s.TimeLastChanged(ctx, scope)
	if err != nil {
		return "", err
	}
	if ok {
		if elapsed := s.now().Sub(lastChanged); elapsed < s.minInterval {
			s.countBump("too_soon")
			return "", &errors.TooSoonError{LastChanged: lastChanged, MinInterval: s.minInterval}
		}
	}

	oldVersion, err := s.GetVersion(ctx, scope, true)
	if err != nil {
		return "", err
	}

	newVersion := newVersionToken()
	store := s.store(scope)
	if err := store.PutString(ctx, scope.Collection+versionSuffix, newVersion); err != nil {
		s.countBump("error")
		return "", err
	}
	if err := store.PutLong(ctx, scope.Collection+changedAtSuffix, s.now().UnixMilli()); err != nil {
		s.countBump("error")
		return "", err
	}
	s.cache.Add(scope.String(), newVersion)
	s.countBump("ok")
	s.logger.Info("collection version updated",
		"scope", scope.String(),
		"old_version", oldVersion,
		"new_version", newVersion,
	)
	return oldVersion, nil
}

// TimeLastChanged returns when the scope's version last changed. ok is false
// when the collection has never been versioned.
func (s *Service) TimeLastChanged(ctx context.Context, scope core.CollectionScope) (time.Time, bool, error) {
	millis, err := s.store(scope).GetLong(ctx, scope.Collection+changedAtSuffix)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.UnixMilli(millis), true, nil
}

// EvictAll clears the local cache.
func (s *Service) EvictAll() {
	s.cache.Purge()
}

func (s *Service) store(scope core.CollectionScope) mapstore.Store {
	return s.stores.Scope(mapstore.Scope{Application: scope.Application, Name: versionMapName})
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

func (s *Service) countBump(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.VersionBumpsTotal.WithLabelValues(outcome).Inc()
}

// newVersionToken returns a time-ordered opaque token.
func newVersionToken() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}
