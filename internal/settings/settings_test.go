package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/pkg/config"
)

func testCache(t *testing.T) (*Cache, *mapstore.MemoryFactory) {
	t.Helper()
	stores := mapstore.NewMemoryFactory()
	cache := NewSettingsCache(stores, nil, config.SettingsConfig{
		CacheSize: 100,
		CacheTTL:  time.Minute,
	}, nil)
	return cache, stores
}

func counterFor(stores *mapstore.MemoryFactory, app uuid.UUID) mapstore.Counter {
	return stores.Scope(mapstore.Scope{Application: app, Name: settingsMapName}).(mapstore.Counter)
}

func TestGetAbsentIsCached(t *testing.T) {
	cache, stores := testCache(t)
	app := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, found, err := cache.Get(ctx, app, "users")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if found || v != "" {
			t.Fatalf("expected absent entry, got (%q, %v)", v, found)
		}
	}
	if reads := counterFor(stores, app).Reads(); reads != 1 {
		t.Fatalf("absence should be cached after one store read, got %d reads", reads)
	}
}

func TestPutIsWriteThrough(t *testing.T) {
	cache, stores := testCache(t)
	app := uuid.New()
	ctx := context.Background()

	doc := `{"fields":["name","email"]}`
	if err := cache.Put(ctx, app, "users", doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Read-after-write must be a cache hit, not a store round trip.
	before := counterFor(stores, app).Reads()
	v, found, err := cache.Get(ctx, app, "users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || v != doc {
		t.Fatalf("Get = (%q, %v), want stored document", v, found)
	}
	if counterFor(stores, app).Reads() != before {
		t.Fatal("read after write should not touch the store")
	}

	// Store holds the document durably.
	stored, err := stores.Scope(mapstore.Scope{Application: app, Name: settingsMapName}).GetString(ctx, "users")
	if err != nil {
		t.Fatalf("store read: %v", err)
	}
	if stored != doc {
		t.Fatalf("store holds %q, want %q", stored, doc)
	}
}

func TestDeleteInvalidates(t *testing.T) {
	cache, _ := testCache(t)
	app := uuid.New()
	ctx := context.Background()

	if err := cache.Put(ctx, app, "users", `{}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Delete(ctx, app, "users"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err := cache.Get(ctx, app, "users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("deleted entry should be absent")
	}
}

func TestEvictAllForcesStoreReload(t *testing.T) {
	cache, stores := testCache(t)
	app := uuid.New()
	ctx := context.Background()

	if err := cache.Put(ctx, app, "users", `{}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	cache.EvictAll()

	before := counterFor(stores, app).Reads()
	if _, _, err := cache.Get(ctx, app, "users"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if counterFor(stores, app).Reads() != before+1 {
		t.Fatal("expected a store read after EvictAll")
	}
}

func TestStampField(t *testing.T) {
	cache, _ := testCache(t)
	app := uuid.New()
	ctx := context.Background()

	// No stored settings: stamping is a no-op, not an error.
	if err := cache.StampField(ctx, app, "users", "lastReindexed", int64(1234)); err != nil {
		t.Fatalf("StampField on absent settings: %v", err)
	}
	if _, found, _ := cache.Get(ctx, app, "users"); found {
		t.Fatal("stamping must not create settings")
	}

	if err := cache.Put(ctx, app, "users", `{"fields":"all"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.StampField(ctx, app, "users", "lastReindexed", int64(1234)); err != nil {
		t.Fatalf("StampField: %v", err)
	}

	doc, found, err := cache.Get(ctx, app, "users")
	if err != nil || !found {
		t.Fatalf("Get = (%v, %v)", err, found)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["fields"] != "all" {
		t.Fatalf("existing field lost: %v", fields)
	}
	if fields["lastReindexed"] != float64(1234) {
		t.Fatalf("stamp missing: %v", fields)
	}
}
