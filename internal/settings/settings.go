// Package settings caches per-collection index settings and schema documents.
// Two cache families share one implementation: a bounded write-expiring local
// cache in front of an optional shared Redis tier in front of the durable map
// store. Absent entries are cached with an empty-string sentinel so repeated
// lookups for keys that will never exist do not hammer the store.
package settings

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
	"github.com/tenantgrid/index-pipeline/pkg/redis"
)

const (
	settingsMapName = "collectionsettings"
	schemaMapName   = "collectionschemas"

	// absentSentinel marks "looked up and confirmed absent" in both cache
	// tiers, as opposed to "not yet looked up".
	absentSentinel = ""
)

// Cache is one settings/schema cache family scoped to a single map name.
type Cache struct {
	name     string
	stores   mapstore.Factory
	local    *expirable.LRU[string, string]
	shared   *redis.Client
	sharedTT time.Duration
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSettingsCache caches collection-level index settings documents.
// shared may be nil; the cache then runs local-only in front of the store.
func NewSettingsCache(stores mapstore.Factory, shared *redis.Client, cfg config.SettingsConfig, m *metrics.Metrics) *Cache {
	return newCache(settingsMapName, stores, shared, cfg, m)
}

// NewSchemaCache caches collection field-mapping schema documents.
func NewSchemaCache(stores mapstore.Factory, shared *redis.Client, cfg config.SettingsConfig, m *metrics.Metrics) *Cache {
	return newCache(schemaMapName, stores, shared, cfg, m)
}

func newCache(name string, stores mapstore.Factory, shared *redis.Client, cfg config.SettingsConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		name:     name,
		stores:   stores,
		local:    expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		shared:   shared,
		sharedTT: cfg.CacheTTL,
		metrics:  m,
		logger:   slog.Default().With("component", name),
	}
}

// Get returns the document for the collection, with found=false when the
// store holds no entry. The absence itself is cached.
func (c *Cache) Get(ctx context.Context, app uuid.UUID, collection string) (string, bool, error) {
	key := c.cacheKey(app, collection)
	if v, ok := c.local.Get(key); ok {
		c.countCache(true)
		return v, v != absentSentinel, nil
	}
	c.countCache(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, app, collection)
	})
	if err != nil {
		return "", false, err
	}
	value := v.(string)
	return value, value != absentSentinel, nil
}

func (c *Cache) load(ctx context.Context, app uuid.UUID, collection string) (string, error) {
	key := c.cacheKey(app, collection)

	if c.shared != nil {
		if v, err := c.shared.Get(ctx, key); err == nil {
			c.local.Add(key, v)
			return v, nil
		} else if !redis.IsNilError(err) {
			c.logger.Warn("shared cache read failed, falling through to store", "key", key, "error", err)
		}
	}

	value, err := c.store(app).GetString(ctx, collection)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			value = absentSentinel
		} else {
			return "", err
		}
	}
	c.local.Add(key, value)
	c.fillShared(ctx, key, value)
	return value, nil
}

// Put writes through to the store, then updates both cache tiers with the
// new value so a read-after-write never misses.
func (c *Cache) Put(ctx context.Context, app uuid.UUID, collection, value string) error {
	if err := c.store(app).PutString(ctx, collection, value); err != nil {
		return err
	}
	key := c.cacheKey(app, collection)
	c.local.Add(key, value)
	c.fillShared(ctx, key, value)
	return nil
}

// Delete removes the entry from the store and invalidates both cache tiers.
func (c *Cache) Delete(ctx context.Context, app uuid.UUID, collection string) error {
	if err := c.store(app).Delete(ctx, collection); err != nil {
		return err
	}
	key := c.cacheKey(app, collection)
	c.local.Remove(key)
	if c.shared != nil {
		if err := c.shared.Del(ctx, key); err != nil {
			c.logger.Warn("shared cache invalidation failed", "key", key, "error", err)
		}
	}
	return nil
}

// EvictAll clears the local cache tier. Shared-tier entries age out on TTL.
func (c *Cache) EvictAll() {
	c.local.Purge()
}

// StampField folds a single field into the stored JSON document for the
// collection and writes it back. It is a no-op when the collection has no
// stored document; bulk jobs stamp completion times without creating
// settings for collections that never had any.
func (c *Cache) StampField(ctx context.Context, app uuid.UUID, collection, field string, value any) error {
	doc, found, err := c.Get(ctx, app, collection)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	fields := map[string]any{}
	if doc != "" {
		if err := json.Unmarshal([]byte(doc), &fields); err != nil {
			return errors.Newf(errors.ErrInternal, 500, "settings document for %s is not valid JSON: %v", collection, err)
		}
	}
	fields[field] = value
	updated, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return c.Put(ctx, app, collection, string(updated))
}

func (c *Cache) store(app uuid.UUID) mapstore.Store {
	return c.stores.Scope(mapstore.Scope{Application: app, Name: c.name})
}

func (c *Cache) cacheKey(app uuid.UUID, collection string) string {
	return c.name + ":" + app.String() + ":" + collection
}

func (c *Cache) fillShared(ctx context.Context, key, value string) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, value, c.sharedTT); err != nil {
		c.logger.Warn("shared cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) countCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	}
}
