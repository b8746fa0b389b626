// Package location computes where an application's documents physically live
// in the search engine: the root index name, the read and write aliases, and
// the shard and replica counts. Strategies are pure values; safe to share.
package location

import (
	"fmt"
	"strings"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/pkg/config"
)

// Strategy maps an application scope onto a physical index location.
type Strategy interface {
	Scope() core.ApplicationScope
	// RootName is the base physical index name.
	RootName() string
	// ReadAlias and WriteAlias are always distinct, so a rebuild can flip
	// the write alias to a fresh index before the read alias follows.
	ReadAlias() string
	WriteAlias() string
	Shards() int
	Replicas() int
	// Key identifies the location. Only scope and prefix participate;
	// shard and replica counts are configuration-derived and may change
	// without the location changing.
	Key() string
}

// applicationStrategy computes the per-application index location.
type applicationStrategy struct {
	scope        core.ApplicationScope
	prefix       string
	aliasPostfix string
	shards       int
	replicas     int
}

func newApplicationStrategy(scope core.ApplicationScope, cfg config.IndexConfig) *applicationStrategy {
	return &applicationStrategy{
		scope:        scope,
		prefix:       cfg.Prefix,
		aliasPostfix: cfg.AliasPostfix,
		shards:       cfg.Shards,
		replicas:     cfg.Replicas,
	}
}

func (s *applicationStrategy) Scope() core.ApplicationScope { return s.scope }

func (s *applicationStrategy) RootName() string {
	keyspace := keyspaceName(s.scope)
	// Skip the prefix when it is empty or the keyspace already carries it;
	// double-prefixing would orphan existing indexes.
	if s.prefix == "" || strings.Contains(keyspace, strings.ToLower(s.prefix)) {
		return keyspace
	}
	return strings.ToLower(s.prefix) + "_" + keyspace
}

func (s *applicationStrategy) ReadAlias() string {
	return aliasName(s.RootName(), s.scope, "read", s.aliasPostfix)
}

func (s *applicationStrategy) WriteAlias() string {
	return aliasName(s.RootName(), s.scope, "write", s.aliasPostfix)
}

func (s *applicationStrategy) Shards() int   { return s.shards }
func (s *applicationStrategy) Replicas() int { return s.replicas }

func (s *applicationStrategy) Key() string {
	return s.scope.Application.String() + "|" + s.prefix
}

// managementStrategy locates the singleton management-application index. Its
// name and sizing come straight from configuration.
type managementStrategy struct {
	scope        core.ApplicationScope
	indexName    string
	aliasPostfix string
	shards       int
	replicas     int
}

func newManagementStrategy(cfg config.IndexConfig) *managementStrategy {
	return &managementStrategy{
		scope:        core.ApplicationScope{Application: core.ManagementApplicationID},
		indexName:    strings.ToLower(cfg.ManagementIndexName),
		aliasPostfix: cfg.AliasPostfix,
		shards:       cfg.ManagementShards,
		replicas:     cfg.ManagementReplicas,
	}
}

func (s *managementStrategy) Scope() core.ApplicationScope { return s.scope }
func (s *managementStrategy) RootName() string             { return s.indexName }

func (s *managementStrategy) ReadAlias() string {
	return aliasName(s.indexName, s.scope, "read", s.aliasPostfix)
}

func (s *managementStrategy) WriteAlias() string {
	return aliasName(s.indexName, s.scope, "write", s.aliasPostfix)
}

func (s *managementStrategy) Shards() int   { return s.shards }
func (s *managementStrategy) Replicas() int { return s.replicas }

func (s *managementStrategy) Key() string {
	return s.scope.Application.String() + "|" + s.indexName
}

func keyspaceName(scope core.ApplicationScope) string {
	return "application_" + strings.ReplaceAll(scope.Application.String(), "-", "_")
}

func aliasName(root string, scope core.ApplicationScope, mode, postfix string) string {
	return fmt.Sprintf("%s_%s_%s_%s", root, scope.Application, mode, postfix)
}

// Equal reports whether two strategies identify the same location.
func Equal(a, b Strategy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}
