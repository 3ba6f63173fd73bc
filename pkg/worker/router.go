package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/model"
)

// NewRouter builds the worker's chunk API.
//
// Routes:
//   - PUT    /chunks/{chunkID}            - store a chunk, optional fan-out via ?replicate_to=url|url
//   - GET    /chunks/{chunkID}            - stream a verified chunk
//   - DELETE /chunks/{chunkID}            - remove a chunk (idempotent)
//   - POST   /chunks/{chunkID}/replicate  - push the local copy to a peer
//   - GET    /health                      - worker health summary
//   - GET    /metrics                     - Prometheus exposition
func NewRouter(w *Worker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/chunks/{chunkID}", func(r chi.Router) {
		r.Put("/", w.handlePutChunk)
		r.Get("/", w.handleGetChunk)
		r.Delete("/", w.handleDeleteChunk)
		r.Post("/replicate", w.handleReplicate)
	})

	r.Get("/health", w.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (w *Worker) handlePutChunk(rw http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")

	var replicateTo []string
	if raw := r.URL.Query().Get("replicate_to"); raw != "" {
		for _, target := range strings.Split(raw, "|") {
			if target = strings.TrimSpace(target); target != "" {
				replicateTo = append(replicateTo, target)
			}
		}
	}

	resp, err := w.StoreChunk(r.Context(), chunkID, r.Body, replicateTo)
	if err != nil {
		api.Error(rw, err)
		return
	}
	api.JSON(rw, http.StatusOK, resp)
}

func (w *Worker) handleGetChunk(rw http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")

	reader, info, err := w.store.Reader(chunkID)
	if err != nil {
		api.Error(rw, err)
		return
	}
	defer reader.Close()

	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	rw.Header().Set(ChecksumHeader, info.Checksum)

	n, err := io.Copy(rw, reader)
	metrics.RecordChunkRead(n)
	if err != nil {
		// Headers are already sent; the client detects the short or corrupt
		// body through its own digest check.
		logger.Warn("chunk download aborted",
			logger.KeyChunkID, chunkID,
			logger.KeyError, err.Error())
	}
}

func (w *Worker) handleDeleteChunk(rw http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")

	if err := w.store.Delete(chunkID); err != nil {
		api.Error(rw, err)
		return
	}
	metrics.SetChunksStored(w.store.Count())
	api.JSON(rw, http.StatusOK, map[string]string{
		"status":   "deleted",
		"chunk_id": chunkID,
	})
}

func (w *Worker) handleReplicate(rw http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "chunkID")

	var req model.ReplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(rw, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}
	if err := model.Validate(req); err != nil {
		api.Error(rw, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid))
		return
	}

	if err := w.ReplicateOut(r.Context(), chunkID, req.DestinationURL); err != nil {
		api.Error(rw, err)
		return
	}
	api.JSON(rw, http.StatusOK, model.ReplicateResponse{
		Status:  "replicated",
		ChunkID: chunkID,
	})
}

func (w *Worker) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	api.JSON(rw, http.StatusOK, w.Health())
}
