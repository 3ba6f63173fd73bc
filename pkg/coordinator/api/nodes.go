package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req model.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}

	resp, err := h.svc.Heartbeat(req)
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

func (h *handler) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Nodes()
	if err != nil {
		api.Error(w, err)
		return
	}
	if nodes == nil {
		nodes = []model.WorkerRecord{}
	}
	api.JSON(w, http.StatusOK, nodes)
}

func (h *handler) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.Node(chi.URLParam(r, "nodeID"))
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, node)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Health()
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats()
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, stats)
}

func (h *handler) acquireLease(w http.ResponseWriter, r *http.Request) {
	var req model.LeaseAcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}

	lease, err := h.svc.AcquireLease(req)
	if err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, lease)
}

func (h *handler) releaseLease(w http.ResponseWriter, r *http.Request) {
	var req model.LeaseReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, fmt.Errorf("malformed request body: %w", errdefs.ErrInvalid))
		return
	}

	if err := h.svc.ReleaseLease(req); err != nil {
		api.Error(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *handler) listLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := h.svc.Leases()
	if err != nil {
		api.Error(w, err)
		return
	}
	if leases == nil {
		leases = []model.Lease{}
	}
	api.JSON(w, http.StatusOK, leases)
}
