// Package api is the operator HTTP surface: trigger and inspect reindex
// jobs, bump and inspect collection versions, dispatch collection delete and
// clear tasks, and manage collection settings. It is an internal admin
// interface, not a product API.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tenantgrid/index-pipeline/internal/collection"
	"github.com/tenantgrid/index-pipeline/internal/core"
	"github.com/tenantgrid/index-pipeline/internal/reindex"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/logger"
)

// Indexer is the per-entity index action bound to reindex jobs.
type Indexer interface {
	Index(ctx context.Context, scope core.EntityIDScope) error
}

type Handler struct {
	reindexer   *reindex.Service
	indexer     Indexer
	versions    *versions.Service
	collections *collection.Service
	settings    *settings.Cache
	logger      *slog.Logger
}

func New(reindexer *reindex.Service, indexer Indexer, versionSvc *versions.Service, collections *collection.Service, settingsCache *settings.Cache) *Handler {
	return &Handler{
		reindexer:   reindexer,
		indexer:     indexer,
		versions:    versionSvc,
		collections: collections,
		settings:    settingsCache,
		logger:      slog.Default().With("component", "admin-api"),
	}
}

// Register attaches all operator routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reindex", h.StartReindex)
	mux.HandleFunc("GET /api/v1/reindex/{jobID}", h.ReindexStatus)
	mux.HandleFunc("GET /api/v1/reindex/{jobID}/cursor", h.ReindexCursor)
	mux.HandleFunc("GET /api/v1/apps/{app}/collections/{collection}/version", h.GetVersion)
	mux.HandleFunc("POST /api/v1/apps/{app}/collections/{collection}/version", h.BumpVersion)
	mux.HandleFunc("DELETE /api/v1/apps/{app}/collections/{collection}", h.DeleteCollection)
	mux.HandleFunc("POST /api/v1/apps/{app}/collections/{collection}/clear", h.ClearCollection)
	mux.HandleFunc("GET /api/v1/apps/{app}/collections/{collection}/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/apps/{app}/collections/{collection}/settings", h.PutSettings)
	mux.HandleFunc("DELETE /api/v1/apps/{app}/collections/{collection}/settings", h.DeleteSettings)
}

type reindexRequest struct {
	Application  string `json:"application"`
	Collection   string `json:"collection"`
	UpdatedSince int64  `json:"updatedSince"`
	Cursor       string `json:"cursor"`
}

type reindexResponse struct {
	JobID   string    `json:"jobId"`
	Status  string    `json:"status"`
	Started time.Time `json:"started"`
}

func (h *Handler) StartReindex(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run := reindex.Request{
		Collection:   req.Collection,
		UpdatedSince: req.UpdatedSince,
		Cursor:       req.Cursor,
	}
	if req.Application != "" {
		app, err := uuid.Parse(req.Application)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "application must be a UUID")
			return
		}
		run.Application = &app
	}

	job, err := h.reindexer.Reindex(r.Context(), run, h.indexer.Index)
	if err != nil {
		h.writeAppError(w, err, "starting reindex failed")
		return
	}

	log.Info("reindex accepted", "job_id", job.ID, "collection", req.Collection)
	h.writeJSON(w, http.StatusAccepted, reindexResponse{
		JobID:   job.ID,
		Status:  string(reindex.StateStarted),
		Started: job.Started,
	})
}

func (h *Handler) ReindexStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reindexer.Status(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeAppError(w, err, "reading job status failed")
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ReindexCursor(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.reindexer.Cursor(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeAppError(w, err, "reading job cursor failed")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no cursor recorded for job")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

type versionResponse struct {
	Application   string `json:"application"`
	Collection    string `json:"collection"`
	Version       string `json:"version"`
	VersionedName string `json:"versionedName"`
	LastChanged   int64  `json:"lastChanged,omitempty"`
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}

	version, err := h.versions.GetVersion(r.Context(), scope, true)
	if err != nil {
		h.writeAppError(w, err, "reading collection version failed")
		return
	}
	resp := versionResponse{
		Application:   scope.Application.String(),
		Collection:    scope.Collection,
		Version:       version,
		VersionedName: versions.BuildVersionedName(scope.Collection, version),
	}
	if changed, ok, err := h.versions.TimeLastChanged(r.Context(), scope); err == nil && ok {
		resp.LastChanged = changed.UnixMilli()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) BumpVersion(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}

	oldVersion, err := h.versions.Update(r.Context(), scope)
	if err != nil {
		h.writeAppError(w, err, "version bump failed")
		return
	}
	newVersion, err := h.versions.GetVersion(r.Context(), scope, true)
	if err != nil {
		h.writeAppError(w, err, "reading new version failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"application": scope.Application.String(),
		"collection":  scope.Collection,
		"oldVersion":  oldVersion,
		"newVersion":  newVersion,
	})
}

func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}
	result, err := h.collections.Delete(r.Context(), scope)
	if err != nil {
		h.writeAppError(w, err, "collection delete failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) ClearCollection(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}
	result, err := h.collections.Clear(r.Context(), scope)
	if err != nil {
		h.writeAppError(w, err, "collection clear failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}
	doc, found, err := h.settings.Get(r.Context(), scope.Application, scope.Collection)
	if err != nil {
		h.writeAppError(w, err, "reading settings failed")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "no settings for collection")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	if !json.Valid(body) {
		h.writeError(w, http.StatusBadRequest, "settings must be a JSON document")
		return
	}
	if err := h.settings.Put(r.Context(), scope.Application, scope.Collection, string(body)); err != nil {
		h.writeAppError(w, err, "storing settings failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (h *Handler) DeleteSettings(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.collectionScope(w, r)
	if !ok {
		return
	}
	if err := h.settings.Delete(r.Context(), scope.Application, scope.Collection); err != nil {
		h.writeAppError(w, err, "deleting settings failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) collectionScope(w http.ResponseWriter, r *http.Request) (core.CollectionScope, bool) {
	app, err := uuid.Parse(r.PathValue("app"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "app must be a UUID")
		return core.CollectionScope{}, false
	}
	name := r.PathValue("collection")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "collection name is required")
		return core.CollectionScope{}, false
	}
	return core.CollectionScope{Application: app, Collection: name}, true
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error, fallback string) {
	status := errors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	h.logger.Error(fallback, "status", status, "error", err)
	h.writeError(w, status, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
