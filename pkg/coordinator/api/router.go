// Package api exposes the coordinator's HTTP surface: the /api/v1 file,
// node, lease, and proxy endpoints, plus health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/coordinator"
	"github.com/driftfs/driftfs/pkg/metrics"
)

// NewRouter builds the coordinator router over the service.
//
// Routes (prefix /api/v1):
//   - POST   /files/upload-init       - open an upload session
//   - POST   /files/commit            - publish an uploaded file
//   - GET    /files                   - list files (?prefix=&limit=&offset=)
//   - GET    /files/{url-encoded-path}    - file record with live replicas
//   - DELETE /files/{url-encoded-path}    - soft delete (?permanent=bool)
//   - POST   /nodes/heartbeat         - worker inventory report
//   - GET    /nodes, /nodes/{nodeID}  - worker views
//   - GET    /health, /stats          - cluster summaries
//   - POST   /leases/acquire, /leases/release; GET /leases
//   - PUT    /proxy/chunks/{chunkID}  - forward chunk bytes to workers
//   - GET    /proxy/chunks/{chunkID}  - stream chunk bytes from a replica
func NewRouter(svc *coordinator.Coordinator) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Metadata endpoints are quick; proxy transfers are exempt from the
		// timeout because chunk bodies stream for minutes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/files/upload-init", h.uploadInit)
			r.Post("/files/commit", h.commit)
			r.Get("/files", h.listFiles)
			r.Get("/files/*", h.getFile)
			r.Delete("/files/*", h.deleteFile)

			r.Post("/nodes/heartbeat", h.heartbeat)
			r.Get("/nodes", h.listNodes)
			r.Get("/nodes/{nodeID}", h.getNode)

			r.Get("/health", h.health)
			r.Get("/stats", h.stats)

			r.Post("/leases/acquire", h.acquireLease)
			r.Post("/leases/release", h.releaseLease)
			r.Get("/leases", h.listLeases)
		})

		r.Put("/proxy/chunks/{chunkID}", h.proxyPut)
		r.Get("/proxy/chunks/{chunkID}", h.proxyGet)
	})

	// Bare liveness probe and metrics exposition outside the API prefix.
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

type handler struct {
	svc *coordinator.Coordinator
}
