// Package core defines the shared domain types of the index pipeline:
// application and collection scopes, entity and edge identities, and the
// event records exchanged with the async queue.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ManagementApplicationID is the distinguished application that owns system
// metadata: reindex cursors, job state, and the management index.
var ManagementApplicationID = uuid.MustParse("b6768a08-b5d5-11e3-a495-11ddb1de66c3")

// ApplicationScope identifies one tenant application. Immutable; created at
// request entry and never mutated.
type ApplicationScope struct {
	Application uuid.UUID `json:"application"`
}

// IsManagement reports whether this scope is the management application.
func (s ApplicationScope) IsManagement() bool {
	return s.Application == ManagementApplicationID
}

func (s ApplicationScope) String() string {
	return s.Application.String()
}

// CollectionScope is an (application, collection name) pair used as a cache
// and version key. Equality covers both fields.
type CollectionScope struct {
	Application uuid.UUID `json:"application"`
	Collection  string    `json:"collection"`
}

func (s CollectionScope) String() string {
	return s.Application.String() + "/" + s.Collection
}

// Id identifies an entity: a UUID plus its type (singular collection name).
type Id struct {
	UUID uuid.UUID `json:"uuid"`
	Type string    `json:"type"`
}

func (id Id) String() string {
	return fmt.Sprintf("%s(%s)", id.Type, id.UUID)
}

// Entity is a loaded entity with its field document. Version is a time-based
// UUID; a later version for the same Id supersedes earlier ones in the search
// engine.
type Entity struct {
	ID      Id             `json:"id"`
	Version uuid.UUID      `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// Edge is a directed relationship in the graph storage layer: collection
// membership or a connection between two entities.
type Edge struct {
	Source    Id     `json:"source"`
	Type      string `json:"type"`
	Target    Id     `json:"target"`
	Timestamp int64  `json:"timestamp"`
}

// Direction says which end of an edge a document is indexed under.
type Direction int

const (
	FromSource Direction = iota
	FromTarget
)

func (d Direction) String() string {
	if d == FromTarget {
		return "from_target"
	}
	return "from_source"
}

// IndexEdge is the search-scope derived from an edge: the node the document
// hangs off, the edge name, and the direction it was generated from.
type IndexEdge struct {
	Node      Id        `json:"node"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Timestamp int64     `json:"timestamp"`
}

// IndexEdgeFromSource scopes the target entity's document under the edge's
// source node.
func IndexEdgeFromSource(e Edge) IndexEdge {
	return IndexEdge{Node: e.Source, Name: e.Type, Direction: FromSource, Timestamp: e.Timestamp}
}

// IndexEdgeFromTarget scopes the source entity's document under the edge's
// target node.
func IndexEdgeFromTarget(e Edge) IndexEdge {
	return IndexEdge{Node: e.Target, Name: e.Type, Direction: FromTarget, Timestamp: e.Timestamp}
}

// EdgeScope pairs an edge with the application it belongs to. It is the unit
// streamed by bulk jobs and the state captured in a resume cursor.
type EdgeScope struct {
	Application ApplicationScope `json:"application"`
	Edge        Edge             `json:"edge"`
}

// EntityIDScope references an entity by id within an application, without
// the loaded document. Bulk reindex streams these; workers load the entity
// fresh before indexing.
type EntityIDScope struct {
	Application ApplicationScope `json:"application"`
	ID          Id               `json:"id"`
}

// IndexEntityEvent records that one entity needs (re)indexing. Produced on
// mutation or bulk reindex; consumed once by a worker and acknowledged after
// a successful index write.
type IndexEntityEvent struct {
	Application   ApplicationScope `json:"application"`
	EntityID      Id               `json:"entityId"`
	EntityVersion uuid.UUID        `json:"entityVersion"`
	CreatedAt     int64            `json:"createdAt"`
}

// CollectionTaskKind distinguishes the two bulk jobs dispatched after a
// version bump.
type CollectionTaskKind string

const (
	TaskCollectionDelete CollectionTaskKind = "collection_delete"
	TaskCollectionClear  CollectionTaskKind = "collection_clear"
)

// CollectionVersionEvent is the bulk-delete job enqueued after a version
// bump, scoped to the now-orphaned old version of a collection.
type CollectionVersionEvent struct {
	Application  ApplicationScope   `json:"application"`
	Collection   string             `json:"collection"`
	OldVersion   string             `json:"oldVersion"`
	Kind         CollectionTaskKind `json:"kind"`
	EndTimestamp int64              `json:"endTimestamp"`
}

// IndexOperationMessage summarises one executed index batch.
type IndexOperationMessage struct {
	Writes  int           `json:"writes"`
	Deletes int           `json:"deletes"`
	Took    time.Duration `json:"took"`
}
