package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/location"
)

// MemoryFactory hands out in-process entity indexes keyed by location. It is
// the engine used by local deployments and tests.
type MemoryFactory struct {
	mu      sync.Mutex
	indexes map[string]*MemoryIndex
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{indexes: make(map[string]*MemoryIndex)}
}

func (f *MemoryFactory) EntityIndex(strategy location.Strategy) EntityIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.indexes[strategy.Key()]; ok {
		return idx
	}
	idx := NewMemoryIndex()
	f.indexes[strategy.Key()] = idx
	return idx
}

// Document is one indexed entry: an entity document scoped under an edge.
type Document struct {
	Edge    core.IndexEdge
	ID      core.Id
	Version uuid.UUID
	Fields  map[string]any
}

// MemoryIndex stores documents keyed by (edge, entity). Writes for the same
// key supersede earlier ones only when the version is not older, so
// out-of-order arrivals within a batch converge on the newest document.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Document)}
}

func (m *MemoryIndex) Initialize(context.Context) error { return nil }

func (m *MemoryIndex) CreateBatch() Batch {
	return &memoryBatch{index: m}
}

// DocCount returns the number of live documents.
func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Documents returns a snapshot of all live documents.
func (m *MemoryIndex) Documents() []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	return docs
}

func docKey(edge core.IndexEdge, id core.Id) string {
	return strings.Join([]string{
		edge.Node.UUID.String(), edge.Name, edge.Direction.String(), id.UUID.String(),
	}, "|")
}

// versionNewer reports whether a supersedes b. Time-based UUIDs compare by
// embedded timestamp; anything else falls back to byte order.
func versionNewer(a, b uuid.UUID) bool {
	if a.Version() == 1 && b.Version() == 1 {
		return a.Time() > b.Time()
	}
	return strings.Compare(a.String(), b.String()) > 0
}

type memoryOp struct {
	edge    core.IndexEdge
	id      core.Id
	version uuid.UUID
	fields  map[string]any
	delete  bool
}

type memoryBatch struct {
	index *MemoryIndex
	ops   []memoryOp
}

func (b *memoryBatch) Index(edge core.IndexEdge, entity *core.Entity, fields []string) {
	doc := entity.Fields
	if fields != nil {
		doc = make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := entity.Fields[f]; ok {
				doc[f] = v
			}
		}
	}
	b.ops = append(b.ops, memoryOp{edge: edge, id: entity.ID, version: entity.Version, fields: doc})
}

func (b *memoryBatch) Deindex(edge core.IndexEdge, id core.Id, version uuid.UUID) {
	b.ops = append(b.ops, memoryOp{edge: edge, id: id, version: version, delete: true})
}

func (b *memoryBatch) Size() int { return len(b.ops) }

func (b *memoryBatch) Execute(ctx context.Context) (core.IndexOperationMessage, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return core.IndexOperationMessage{}, err
	}

	b.index.mu.Lock()
	defer b.index.mu.Unlock()

	msg := core.IndexOperationMessage{}
	for _, op := range b.ops {
		key := docKey(op.edge, op.id)
		if op.delete {
			if existing, ok := b.index.docs[key]; ok && !versionNewer(existing.Version, op.version) {
				delete(b.index.docs, key)
			}
			msg.Deletes++
			continue
		}
		if existing, ok := b.index.docs[key]; ok && versionNewer(existing.Version, op.version) {
			// A newer document already landed; this write is stale.
			msg.Writes++
			continue
		}
		b.index.docs[key] = Document{Edge: op.edge, ID: op.id, Version: op.version, Fields: op.fields}
		msg.Writes++
	}
	b.ops = nil
	msg.Took = time.Since(start)
	return msg, nil
}
