package location

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/pkg/config"
)

func testConfig() config.IndexConfig {
	return config.IndexConfig{
		Prefix:              "prod",
		AliasPostfix:        "alias",
		Shards:              6,
		Replicas:            1,
		ManagementIndexName: "management",
		ManagementShards:    1,
		ManagementReplicas:  1,
	}
}

func TestApplicationStrategyNames(t *testing.T) {
	f := NewFactory(testConfig(), nil)
	scope := core.ApplicationScope{Application: uuid.New()}
	s := f.StrategyFor(scope)

	if !strings.HasPrefix(s.RootName(), "prod_application_") {
		t.Fatalf("RootName = %q", s.RootName())
	}
	if s.ReadAlias() == s.WriteAlias() {
		t.Fatalf("read and write aliases must differ, both %q", s.ReadAlias())
	}
	if !strings.HasSuffix(s.ReadAlias(), "_read_alias") || !strings.HasSuffix(s.WriteAlias(), "_write_alias") {
		t.Fatalf("aliases = %q / %q", s.ReadAlias(), s.WriteAlias())
	}
	if s.Shards() != 6 || s.Replicas() != 1 {
		t.Fatalf("sizing = %d/%d", s.Shards(), s.Replicas())
	}
}

func TestManagementStrategySelected(t *testing.T) {
	f := NewFactory(testConfig(), nil)
	s := f.StrategyFor(core.ApplicationScope{Application: core.ManagementApplicationID})

	if s.RootName() != "management" {
		t.Fatalf("RootName = %q, want management", s.RootName())
	}
	if s.Shards() != 1 {
		t.Fatalf("management shards = %d, want 1", s.Shards())
	}
}

func TestStrategyIdentityIgnoresSizing(t *testing.T) {
	scope := core.ApplicationScope{Application: uuid.New()}

	a := NewFactory(testConfig(), nil).StrategyFor(scope)

	resized := testConfig()
	resized.Shards = 12
	resized.Replicas = 3
	b := NewFactory(resized, nil).StrategyFor(scope)

	if !Equal(a, b) {
		t.Fatal("sizing changes must not change the location identity")
	}

	other := NewFactory(testConfig(), nil).StrategyFor(core.ApplicationScope{Application: uuid.New()})
	if Equal(a, other) {
		t.Fatal("different applications must map to different locations")
	}
}

func TestReplicatedStrategyDelegates(t *testing.T) {
	f := NewFactory(testConfig(), nil)
	scope := core.ApplicationScope{Application: uuid.New()}

	plain := f.StrategyFor(scope)
	replicated := f.ReplicatedStrategyFor(scope)

	if !Equal(plain, replicated) {
		t.Fatal("replicated wrapper must keep the delegate's identity")
	}
	if replicated.WriteAlias() != plain.WriteAlias() {
		t.Fatalf("WriteAlias = %q, want %q", replicated.WriteAlias(), plain.WriteAlias())
	}
	// No shared cache configured: publication is a no-op, not a panic.
	replicated.(Publisher).Publish(t.Context())
}
