package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/worker"
)

func (h *handler) proxyPut(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")

	var targets []string
	for _, nodeID := range strings.Split(r.URL.Query().Get("target_nodes"), ",") {
		if nodeID = strings.TrimSpace(nodeID); nodeID != "" {
			targets = append(targets, nodeID)
		}
	}

	// Browsers and HTTP libraries wrap the chunk in a multipart form; the
	// in-repo client streams it as a bare octet-stream body. Both land here.
	body := io.Reader(r.Body)
	size := r.ContentLength
	if mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mediaType, "multipart/") {
		part, err := chunkFilePart(multipart.NewReader(r.Body, params["boundary"]))
		if err != nil {
			api.Error(w, fmt.Errorf("%s: %w", err, errdefs.ErrInvalid))
			return
		}
		defer part.Close()
		body, size = part, -1
	}

	resp, err := h.svc.ProxyPut(r.Context(), chunkID, body, size, targets)
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// chunkFilePart walks a multipart body and returns the part carrying the
// chunk bytes: the "file" form field, or failing that any part uploaded
// with a filename.
func chunkFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("multipart body has no file part")
			}
			return nil, fmt.Errorf("malformed multipart body: %v", err)
		}
		if part.FormName() == "file" || part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func (h *handler) proxyGet(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")
	filePath := r.URL.Query().Get("file_path")
	if filePath == "" {
		api.Error(w, fmt.Errorf("file_path is required: %w", errdefs.ErrInvalid))
		return
	}

	body, size, checksum, err := h.svc.ProxyGet(r.Context(), chunkID, filePath)
	if err != nil {
		api.Error(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if checksum != "" {
		w.Header().Set(worker.ChecksumHeader, checksum)
	}

	if _, err := io.Copy(w, body); err != nil {
		logger.Warn("proxy download aborted",
			logger.KeyChunkID, chunkID,
			logger.KeyError, err.Error())
	}
}
