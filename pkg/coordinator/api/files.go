package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/driftfs/driftfs/internal/telemetry"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

func (h *handler) uploadInit(w http.ResponseWriter, r *http.Request) {
	var req model.UploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}

	ctx, span := telemetry.StartFileSpan(r.Context(), telemetry.SpanUploadInit, req.Path,
		telemetry.Size(req.Size))
	defer span.End()

	plan, err := h.svc.UploadInit(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, plan)
}

func (h *handler) commit(w http.ResponseWriter, r *http.Request) {
	var req model.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanCommit)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.FileID(req.FileID))

	resp, err := h.svc.Commit(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	files, err := h.svc.List(q.Get("prefix"), limit, offset)
	if err != nil {
		api.Error(w, err)
		return
	}
	if files == nil {
		files = []model.FileRecord{}
	}
	api.JSON(w, http.StatusOK, files)
}

func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	path, err := wildcardPath(r)
	if err != nil {
		api.Error(w, err)
		return
	}

	file, err := h.svc.Get(path)
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, file)
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	path, err := wildcardPath(r)
	if err != nil {
		api.Error(w, err)
		return
	}
	permanent, _ := strconv.ParseBool(r.URL.Query().Get("permanent"))

	ctx, span := telemetry.StartFileSpan(r.Context(), telemetry.SpanDeleteFile, path)
	defer span.End()

	resp, err := h.svc.Delete(path, permanent)
	if err != nil {
		telemetry.RecordError(ctx, err)
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// wildcardPath extracts the logical file path from a /files/* route. The
// path arrives url-encoded ("%2Fdocs%2Fa") or as plain segments
// ("docs/a"); both decode to an absolute path.
func wildcardPath(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("malformed path %q: %w", raw, errdefs.ErrInvalid)
	}
	if decoded == "" {
		return "", fmt.Errorf("empty path: %w", errdefs.ErrInvalid)
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded, nil
}
