package version

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

func testService(t *testing.T) (*Service, *mapstore.MemoryFactory, *fakeClock) {
	t.Helper()
	stores := mapstore.NewMemoryFactory()
	svc := NewService(stores, config.VersionsConfig{
		MinInterval: time.Minute,
		CacheSize:   100,
		CacheTTL:    30 * time.Second,
	}, nil)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, stores, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetVersionUnversioned(t *testing.T) {
	svc, _, _ := testService(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}

	v, err := svc.GetVersion(context.Background(), scope, false)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty version for new collection, got %q", v)
	}

	name, err := svc.VersionedName(context.Background(), scope, false)
	if err != nil {
		t.Fatalf("VersionedName: %v", err)
	}
	if name != "users" {
		t.Fatalf("unversioned collection should use its bare name, got %q", name)
	}
}

func TestUpdateReturnsPreviousVersion(t *testing.T) {
	svc, _, clock := testService(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()

	old, err := svc.Update(ctx, scope)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if old != "" {
		t.Fatalf("first update should return empty previous version, got %q", old)
	}

	first, err := svc.GetVersion(ctx, scope, true)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if first == "" {
		t.Fatal("version should be set after update")
	}

	clock.Advance(2 * time.Minute)
	old, err = svc.Update(ctx, scope)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if old != first {
		t.Fatalf("second update should return first version: got %q want %q", old, first)
	}

	second, err := svc.GetVersion(ctx, scope, true)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if second == first {
		t.Fatal("tokens must differ across updates")
	}
}

func TestUpdateTooSoon(t *testing.T) {
	svc, _, clock := testService(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()

	if _, err := svc.Update(ctx, scope); err != nil {
		t.Fatalf("first update: %v", err)
	}

	clock.Advance(10 * time.Second)
	_, err := svc.Update(ctx, scope)
	if !stderrors.Is(err, errors.ErrTooSoon) {
		t.Fatalf("expected too-soon error, got %v", err)
	}
	var tooSoon *errors.TooSoonError
	if !stderrors.As(err, &tooSoon) {
		t.Fatalf("expected *TooSoonError, got %T", err)
	}
	if tooSoon.MinInterval != time.Minute {
		t.Fatalf("MinInterval = %v, want 1m", tooSoon.MinInterval)
	}

	// Throttle is scoped: another collection in the same app bumps freely.
	other := core.CollectionScope{Application: scope.Application, Collection: "devices"}
	if _, err := svc.Update(ctx, other); err != nil {
		t.Fatalf("unrelated collection should not be throttled: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := svc.Update(ctx, scope); err != nil {
		t.Fatalf("update after interval elapsed: %v", err)
	}
}

func TestGetVersionCachesAbsence(t *testing.T) {
	svc, stores, _ := testService(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()

	store := stores.Scope(mapstore.Scope{Application: scope.Application, Name: versionMapName})
	counter := store.(mapstore.Counter)

	for i := 0; i < 5; i++ {
		if _, err := svc.GetVersion(ctx, scope, false); err != nil {
			t.Fatalf("GetVersion: %v", err)
		}
	}
	if counter.Reads() != 1 {
		t.Fatalf("absent version should be cached after one store read, got %d reads", counter.Reads())
	}
}

func TestTimeLastChanged(t *testing.T) {
	svc, _, clock := testService(t)
	scope := core.CollectionScope{Application: uuid.New(), Collection: "users"}
	ctx := context.Background()

	_, ok, err := svc.TimeLastChanged(ctx, scope)
	if err != nil {
		t.Fatalf("TimeLastChanged: %v", err)
	}
	if ok {
		t.Fatal("never-versioned collection should report no change time")
	}

	if _, err := svc.Update(ctx, scope); err != nil {
		t.Fatalf("update: %v", err)
	}
	ts, ok, err := svc.TimeLastChanged(ctx, scope)
	if err != nil {
		t.Fatalf("TimeLastChanged: %v", err)
	}
	if !ok {
		t.Fatal("expected change time after update")
	}
	if !ts.Equal(clock.Now().Truncate(time.Millisecond)) {
		t.Fatalf("change time = %v, want %v", ts, clock.Now())
	}
}

func TestVersionedNameRoundTrip(t *testing.T) {
	base := "users"
	token := "0af1c2d3e4f5678901234567890abcde"
	name := BuildVersionedName(base, token)
	if name != base+Separator+token {
		t.Fatalf("unexpected versioned name %q", name)
	}
	gotBase, gotVersion := ParseVersionedName(name)
	if gotBase != base || gotVersion != token {
		t.Fatalf("round trip got (%q, %q)", gotBase, gotVersion)
	}
	if !HasVersion(name) {
		t.Fatal("HasVersion should be true for versioned name")
	}
	if HasVersion(base) {
		t.Fatal("HasVersion should be false for bare name")
	}
}
