// Package mapstore is the durable key-value collaborator used for collection
// version tokens, settings blobs, reindex cursors, and job state. Keys live
// inside a (application, map name) scope. Entries may carry a TTL.
package mapstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Scope names one logical map within an application.
type Scope struct {
	Application uuid.UUID
	Name        string
}

// Store is a scoped key-value map. GetString and GetLong return
// errors.ErrKeyNotFound (wrapped) for absent or expired keys.
type Store interface {
	GetString(ctx context.Context, key string) (string, error)
	PutString(ctx context.Context, key, value string) error
	PutStringTTL(ctx context.Context, key, value string, ttl time.Duration) error
	GetLong(ctx context.Context, key string) (int64, error)
	PutLong(ctx context.Context, key string, value int64) error
	Delete(ctx context.Context, key string) error
}

// Factory hands out Stores bound to a scope.
type Factory interface {
	Scope(scope Scope) Store
}

// Counter is implemented by stores that count backing reads and writes.
// Cache tests use it to verify negative caching and sampling behaviour.
type Counter interface {
	Reads() int
	Writes() int
}
