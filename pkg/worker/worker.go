// Package worker implements the storage node: a chunk store served over
// HTTP, a heartbeat loop reporting the full local inventory to the
// coordinator, and background scan and scrub passes.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/model"
	"github.com/driftfs/driftfs/pkg/worker/store"
)

// Worker is one storage node. It owns a DiskStore, serves the chunk API,
// and reports its inventory to the coordinator on every heartbeat.
type Worker struct {
	cfg    config.WorkerConfig
	nodeID string
	store  *store.DiskStore

	// coordClient posts heartbeats. Short timeout: a heartbeat that cannot
	// complete within the interval is worthless.
	coordClient *http.Client

	mu    sync.Mutex
	peers map[string]*Client
}

// New opens the chunk store and prepares the worker. The node id defaults
// to node-<host>-<port> and stays stable across restarts as long as host
// and port do not change.
func New(cfg config.WorkerConfig) (*Worker, error) {
	if err := config.ValidateWorker(&cfg); err != nil {
		return nil, err
	}

	ds, err := store.Open(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = "node-" + cfg.AdvertiseAddr() + "-" + strconv.Itoa(cfg.Port)
	}

	return &Worker{
		cfg:         cfg,
		nodeID:      nodeID,
		store:       ds,
		coordClient: &http.Client{Timeout: cfg.HeartbeatInterval},
		peers:       make(map[string]*Client),
	}, nil
}

// NodeID returns the stable worker identity.
func (w *Worker) NodeID() string {
	return w.nodeID
}

// Store exposes the chunk store to the HTTP handlers.
func (w *Worker) Store() *store.DiskStore {
	return w.store
}

// peer returns a cached client for another worker's base URL.
func (w *Worker) peer(baseURL string) *Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.peers[baseURL]
	if !ok {
		c = NewClient(baseURL)
		w.peers[baseURL] = c
	}
	return c
}

// Run serves the chunk API and drives the heartbeat, inventory scan, and
// scrub loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	server := api.NewServer("worker", addr, NewRouter(w))

	logger.Info("worker starting",
		logger.KeyNodeID, w.nodeID,
		"addr", addr,
		"storage_path", w.cfg.StoragePath,
		logger.KeyChunkCount, w.store.Count())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx, shutdownTimeout) })
	g.Go(func() error { return w.heartbeatLoop(ctx) })
	g.Go(func() error { return w.scanLoop(ctx) })
	g.Go(func() error { return w.scrubLoop(ctx) })
	return g.Wait()
}

// ============================================================================
// Heartbeat
// ============================================================================

// heartbeatLoop sends one heartbeat immediately, then one per interval.
// A failed heartbeat is logged and retried at the next tick; the coordinator
// tolerates gaps up to its dead threshold.
func (w *Worker) heartbeatLoop(ctx context.Context) error {
	w.sendHeartbeat(ctx)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	free, total, err := DiskUsage(w.cfg.StoragePath)
	if err != nil {
		logger.Warn("failed to stat storage mount",
			logger.KeyNodeID, w.nodeID,
			logger.KeyError, err.Error())
	}

	hb := model.HeartbeatRequest{
		NodeID:     w.nodeID,
		Host:       w.cfg.AdvertiseAddr(),
		Port:       w.cfg.Port,
		Rack:       w.cfg.Rack,
		FreeSpace:  free,
		TotalSpace: total,
		ChunkIDs:   w.store.ChunkIDs(),
	}
	metrics.SetChunksStored(len(hb.ChunkIDs))

	payload, err := json.Marshal(hb)
	if err != nil {
		logger.Error("failed to marshal heartbeat", logger.KeyError, err.Error())
		return
	}

	hbCtx, cancel := context.WithTimeout(ctx, w.cfg.HeartbeatInterval)
	defer cancel()

	url := w.cfg.CoordinatorURL + "/api/v1/nodes/heartbeat"
	req, err := http.NewRequestWithContext(hbCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		logger.Error("failed to build heartbeat request", logger.KeyError, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.coordClient.Do(req)
	if err != nil {
		logger.Warn("heartbeat failed, coordinator unreachable",
			logger.KeyNodeID, w.nodeID,
			logger.KeyError, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		logger.Warn("heartbeat rejected",
			logger.KeyNodeID, w.nodeID,
			logger.KeyStatus, resp.StatusCode)
		return
	}
	logger.Debug("heartbeat sent",
		logger.KeyNodeID, w.nodeID,
		logger.KeyChunkCount, len(hb.ChunkIDs),
		logger.KeyFreeSpace, free)
}

// ============================================================================
// Background maintenance
// ============================================================================

// scanLoop re-reads the storage directory periodically so out-of-band
// additions and removals show up in the next heartbeat.
func (w *Worker) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.store.Scan(); err != nil {
				logger.Warn("inventory scan failed",
					logger.KeyNodeID, w.nodeID,
					logger.KeyError, err.Error())
				continue
			}
			logger.Debug("inventory scan completed",
				logger.KeyNodeID, w.nodeID,
				logger.KeyChunkCount, w.store.Count())
		}
	}
}

// scrubLoop recomputes every stored digest periodically, quarantining bit
// rot before a client ever reads it.
func (w *Worker) scrubLoop(ctx context.Context) error {
	if w.cfg.ScrubInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(w.cfg.ScrubInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			checked, corrupted := w.store.Scrub()
			logger.Info("scrub pass completed",
				logger.KeyNodeID, w.nodeID,
				"checked", checked,
				"corrupted", corrupted)
		}
	}
}

// ============================================================================
// Chunk operations
// ============================================================================

// StoreChunk writes the chunk locally, then fans it out to the replicateTo
// peers concurrently. Peer failures are tolerated: the response lists only
// the workers that confirmed a copy, and the coordinator's repair loop
// restores the missing replicas later.
func (w *Worker) StoreChunk(ctx context.Context, chunkID string, body io.Reader, replicateTo []string) (model.PutChunkResponse, error) {
	info, err := w.store.Write(chunkID, body)
	if err != nil {
		return model.PutChunkResponse{}, err
	}
	metrics.RecordChunkWrite(info.Size)
	metrics.SetChunksStored(w.store.Count())

	nodes := []string{w.nodeID}
	if len(replicateTo) > 0 {
		var mu sync.Mutex
		var g errgroup.Group
		for _, target := range replicateTo {
			g.Go(func() error {
				peerNodes, err := w.pushChunk(ctx, chunkID, target)
				if err != nil {
					logger.Warn("replication to peer failed",
						logger.KeyChunkID, chunkID,
						logger.KeyTarget, target,
						logger.KeyError, err.Error())
					return nil
				}
				mu.Lock()
				nodes = append(nodes, peerNodes...)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return model.PutChunkResponse{
		Status:   "stored",
		ChunkID:  chunkID,
		Size:     info.Size,
		Checksum: info.Checksum,
		Nodes:    nodes,
	}, nil
}

// pushChunk streams the local copy of a chunk to one peer and returns the
// node ids that confirmed it.
func (w *Worker) pushChunk(ctx context.Context, chunkID, targetURL string) ([]string, error) {
	r, info, err := w.store.Reader(chunkID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	resp, err := w.peer(targetURL).PutChunk(ctx, chunkID, r, info.Size, nil)
	if err != nil {
		return nil, err
	}
	if resp.Checksum != info.Checksum {
		return nil, fmt.Errorf("peer stored digest %s, expected %s: %w",
			resp.Checksum, info.Checksum, errdefs.ErrCorrupted)
	}
	return resp.Nodes, nil
}

// ReplicateOut pushes the local copy of chunkID to destinationURL. Called
// by the coordinator's repair loop through the replicate endpoint.
func (w *Worker) ReplicateOut(ctx context.Context, chunkID, destinationURL string) error {
	if _, err := w.pushChunk(ctx, chunkID, destinationURL); err != nil {
		return err
	}
	logger.Info("chunk replicated to peer",
		logger.KeyChunkID, chunkID,
		logger.KeyTarget, destinationURL)
	return nil
}

// Health summarizes the worker for its /health endpoint.
func (w *Worker) Health() model.WorkerHealth {
	free, total, err := DiskUsage(w.cfg.StoragePath)
	if err != nil {
		logger.Warn("failed to stat storage mount", logger.KeyError, err.Error())
	}
	return model.WorkerHealth{
		Status:     "healthy",
		NodeID:     w.nodeID,
		FreeSpace:  free,
		TotalSpace: total,
		ChunkCount: w.store.Count(),
	}
}
