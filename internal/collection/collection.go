// Package collection implements collection delete and clear: a version bump
// that makes the old generation's data invisible to new reads, followed by
// an asynchronous bulk job that removes the orphaned documents.
package collection

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// TaskResult reports a delete or clear that was accepted: the version swap
// is done, the bulk removal runs in the background.
type TaskResult struct {
	Application uuid.UUID               `json:"application"`
	Collection  string                  `json:"collection"`
	OldVersion  string                  `json:"oldVersion"`
	NewVersion  string                  `json:"newVersion"`
	Kind        core.CollectionTaskKind `json:"kind"`
}

// Service mints collection versions and dispatches the bulk-removal jobs.
// Delete and Clear differ only in the job kind carried on the event.
type Service struct {
	versions *versions.Service
	settings *settings.Cache
	queue    eventqueue.Queue
	logger   *slog.Logger
}

func NewService(versionSvc *versions.Service, settingsCache *settings.Cache, queue eventqueue.Queue) *Service {
	return &Service{
		versions: versionSvc,
		settings: settingsCache,
		queue:    queue,
		logger:   slog.Default().With("component", "collection-tasks"),
	}
}

// Delete swaps the collection to a fresh version and schedules removal of
// the old generation's documents. A bump inside the minimum interval fails
// with the version service's too-soon error; nothing is enqueued.
func (s *Service) Delete(ctx context.Context, scope core.CollectionScope) (TaskResult, error) {
	return s.swapAndEnqueue(ctx, scope, core.TaskCollectionDelete)
}

// Clear is Delete with a different job kind: the collection survives, its
// contents do not.
func (s *Service) Clear(ctx context.Context, scope core.CollectionScope) (TaskResult, error) {
	result, err := s.swapAndEnqueue(ctx, scope, core.TaskCollectionClear)
	if err != nil {
		return result, err
	}
	if s.settings != nil {
		if err := s.settings.StampField(ctx, scope.Application, scope.Collection, "lastCollectionClear", time.Now().UnixMilli()); err != nil {
			s.logger.Warn("lastCollectionClear stamp failed", "scope", scope.String(), "error", err)
		}
	}
	return result, nil
}

func (s *Service) swapAndEnqueue(ctx context.Context, scope core.CollectionScope, kind core.CollectionTaskKind) (TaskResult, error) {
	oldVersion, err := s.versions.Update(ctx, scope)
	if err != nil {
		return TaskResult{}, err
	}
	newVersion, err := s.versions.GetVersion(ctx, scope, true)
	if err != nil {
		return TaskResult{}, err
	}

	event := core.CollectionVersionEvent{
		Application:  core.ApplicationScope{Application: scope.Application},
		Collection:   scope.Collection,
		OldVersion:   oldVersion,
		Kind:         kind,
		EndTimestamp: time.Now().UnixMilli(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return TaskResult{}, err
	}
	if err := s.queue.Offer(ctx, scope.String(), body); err != nil {
		return TaskResult{}, errors.Newf(errors.ErrQueueBackend, 503, "offering %s job: %v", kind, err)
	}

	s.logger.Info("collection task dispatched",
		"scope", scope.String(),
		"kind", string(kind),
		"old_version", oldVersion,
		"new_version", newVersion,
	)
	return TaskResult{
		Application: scope.Application,
		Collection:  scope.Collection,
		OldVersion:  oldVersion,
		NewVersion:  newVersion,
		Kind:        kind,
	}, nil
}
