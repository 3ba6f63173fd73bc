// Package coordinator implements the metadata coordinator: the single
// source of truth for the namespace, chunk placement, worker liveness, and
// upload sessions, plus the background repair, garbage collection, and
// session sweep loops.
//
// All metadata mutations are serialized under one writer lock and journaled
// by the store before they are acknowledged. Reads work on deep-copied
// snapshots returned by the store.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/chunk"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/coordinator/store"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/model"
	"github.com/driftfs/driftfs/pkg/worker"
)

// Coordinator owns all metadata mutations. One instance per cluster.
type Coordinator struct {
	cfg   config.CoordinatorConfig
	store store.MetadataStore

	// mu is the single writer lock over metadata mutations.
	mu sync.Mutex

	clientsMu sync.Mutex
	clients   map[string]*worker.Client

	proxyMu sync.Mutex
	proxyRR map[string]int

	// now is swapped in tests to drive session and lease expiry.
	now func() time.Time
}

// New creates the coordinator service over an opened metadata store.
// Unset configuration fields receive their defaults.
func New(cfg config.CoordinatorConfig, st store.MetadataStore) *Coordinator {
	cfg.ApplyDefaults()
	return &Coordinator{
		cfg:     cfg,
		store:   st,
		clients: make(map[string]*worker.Client),
		proxyRR: make(map[string]int),
		now:     time.Now,
	}
}

// Config returns the effective coordinator configuration.
func (c *Coordinator) Config() config.CoordinatorConfig {
	return c.cfg
}

// workerClient returns a cached chunk-API client for a worker base URL.
func (c *Coordinator) workerClient(baseURL string) *worker.Client {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	wc, ok := c.clients[baseURL]
	if !ok {
		wc = worker.NewClient(baseURL)
		c.clients[baseURL] = wc
	}
	return wc
}

// ============================================================================
// Worker liveness
// ============================================================================

// isAlive reports whether a worker's heartbeat is fresh enough to count.
func (c *Coordinator) isAlive(w *model.WorkerRecord, now time.Time) bool {
	if w.State == model.NodeDecommissioned {
		return false
	}
	return now.Sub(w.LastHeartbeat) <= c.cfg.DeadThreshold
}

// workerView recomputes the liveness state for a read-side view. Stored
// state only changes on heartbeat or the liveness scan; the view is always
// derived from the timestamp so reads never see a stale "active".
func (c *Coordinator) workerView(w model.WorkerRecord, now time.Time) model.WorkerRecord {
	if w.State != model.NodeDecommissioned {
		if c.isAlive(&w, now) {
			w.State = model.NodeActive
		} else {
			w.State = model.NodeInactive
		}
	}
	return w
}

// activeWorkers snapshots the workers currently considered alive.
func (c *Coordinator) activeWorkers(now time.Time) ([]model.WorkerRecord, error) {
	all, err := c.store.ListWorkers()
	if err != nil {
		return nil, err
	}
	var active []model.WorkerRecord
	for _, w := range all {
		if c.isAlive(&w, now) {
			w.State = model.NodeActive
			active = append(active, w)
		}
	}
	return active, nil
}

// activeSet returns the active worker ids as a lookup map.
func activeSet(workers []model.WorkerRecord) map[string]bool {
	set := make(map[string]bool, len(workers))
	for _, w := range workers {
		set[w.ID] = true
	}
	return set
}

// ============================================================================
// Upload: init and commit
// ============================================================================

// UploadInit validates the request, plans chunk placement, and opens an
// upload session with a provisional (invisible) file record.
func (c *Coordinator) UploadInit(ctx context.Context, req model.UploadInitRequest) (model.UploadPlan, error) {
	if err := model.Validate(req); err != nil {
		return model.UploadPlan{}, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if existing, err := c.store.GetFileByPath(req.Path); err == nil && !req.Overwrite {
		return model.UploadPlan{}, fmt.Errorf("path %s already owned by file %s: %w",
			req.Path, existing.ID, errdefs.ErrPathConflict)
	}

	active, err := c.activeWorkers(now)
	if err != nil {
		return model.UploadPlan{}, err
	}
	if len(active) < c.cfg.ReplicationFactor {
		return model.UploadPlan{}, fmt.Errorf("%d active workers, need %d: %w",
			len(active), c.cfg.ReplicationFactor, errdefs.ErrNoCapacity)
	}

	chunkSize := c.cfg.ChunkSize.Int64()
	count, err := chunk.Count(req.Size, chunkSize)
	if err != nil {
		return model.UploadPlan{}, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}

	fileID := uuid.NewString()
	file := model.FileRecord{
		ID:           fileID,
		Path:         req.Path,
		Size:         req.Size,
		CreatedAt:    now,
		ModifiedAt:   now,
		Compressed:   req.Compressed,
		OriginalSize: req.OriginalSize,
	}
	sess := model.UploadSession{
		FileID:    fileID,
		Path:      req.Path,
		Size:      req.Size,
		ChunkSize: chunkSize,
		CreatedAt: now,
		Overwrite: req.Overwrite,
	}
	plan := model.UploadPlan{FileID: fileID, ChunkSize: chunkSize}

	for i := 0; i < count; i++ {
		size, err := chunk.SizeOf(i, req.Size, chunkSize)
		if err != nil {
			return model.UploadPlan{}, err
		}
		targets := pickTargets(active, i, size, c.cfg.ReplicationFactor, c.cfg.RackAware)
		if len(targets) == 0 {
			return model.UploadPlan{}, fmt.Errorf("no worker has room for chunk %d (%d bytes): %w",
				i, size, errdefs.ErrNoCapacity)
		}

		chunkID := uuid.NewString()
		file.Chunks = append(file.Chunks, model.ChunkRecord{
			ID:       chunkID,
			SeqIndex: i,
			Size:     size,
		})
		sess.Chunks = append(sess.Chunks, model.SessionChunk{
			ChunkID: chunkID,
			Size:    size,
			Targets: targets,
		})

		urls := make([]string, 0, len(targets))
		for _, target := range targets {
			urls = append(urls, target.URL)
		}
		plan.Chunks = append(plan.Chunks, model.ChunkPlan{ChunkID: chunkID, Size: size, Targets: urls})
	}

	if err := c.store.CreateFile(file); err != nil {
		return model.UploadPlan{}, err
	}
	if err := c.store.PutSession(sess); err != nil {
		return model.UploadPlan{}, err
	}

	logger.Info("upload session opened",
		logger.KeyFileID, fileID,
		logger.KeyPath, req.Path,
		logger.KeySize, req.Size,
		"chunks", count)
	return plan, nil
}

// Commit publishes an upload session's provisional file. Every session
// chunk must be reported exactly once with at least one acknowledging
// worker; on an overwrite, the superseded record is soft-deleted atomically
// with the publish.
func (c *Coordinator) Commit(ctx context.Context, req model.CommitRequest) (model.CommitResponse, error) {
	if err := model.Validate(req); err != nil {
		return model.CommitResponse{}, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	sess, err := c.store.GetSession(req.FileID)
	if err != nil {
		return model.CommitResponse{}, fmt.Errorf("session %s: %w", req.FileID, errdefs.ErrSessionExpired)
	}
	if sess.Expired(now, c.cfg.SessionTimeout) {
		c.abandonSession(sess)
		return model.CommitResponse{}, fmt.Errorf("session %s opened %s ago: %w",
			req.FileID, now.Sub(sess.CreatedAt).Round(time.Second), errdefs.ErrSessionExpired)
	}

	reported := make(map[string]model.CommitChunk, len(req.Chunks))
	for _, cc := range req.Chunks {
		if _, dup := reported[cc.ChunkID]; dup {
			return model.CommitResponse{}, fmt.Errorf("chunk %s reported twice: %w", cc.ChunkID, errdefs.ErrInvalid)
		}
		reported[cc.ChunkID] = cc
	}
	if len(reported) != len(sess.Chunks) {
		return model.CommitResponse{}, fmt.Errorf("session has %d chunks, commit reported %d: %w",
			len(sess.Chunks), len(reported), errdefs.ErrInvalid)
	}

	file, err := c.store.GetFileByID(req.FileID)
	if err != nil {
		return model.CommitResponse{}, err
	}

	for i := range file.Chunks {
		rec := &file.Chunks[i]
		cc, ok := reported[rec.ID]
		if !ok {
			return model.CommitResponse{}, fmt.Errorf("chunk %s missing from commit: %w", rec.ID, errdefs.ErrInvalid)
		}
		if len(cc.Nodes) == 0 {
			return model.CommitResponse{}, fmt.Errorf("chunk %s has zero reporting workers: %w", rec.ID, errdefs.ErrInvalid)
		}

		rec.Checksum = cc.Checksum
		rec.Replicas = nil
		for _, nodeID := range cc.Nodes {
			w, err := c.store.GetWorker(nodeID)
			if err != nil {
				logger.Warn("commit names unknown worker, skipping placement",
					logger.KeyChunkID, rec.ID,
					logger.KeyNodeID, nodeID)
				continue
			}
			rec.Replicas = append(rec.Replicas, model.ReplicaPlacement{
				NodeID:        w.ID,
				URL:           w.URL(),
				State:         model.PlacementCommitted,
				LastConfirmed: now,
			})
		}
		if len(rec.Replicas) == 0 {
			return model.CommitResponse{}, fmt.Errorf("chunk %s acknowledged only by unknown workers: %w",
				rec.ID, errdefs.ErrInvalid)
		}
	}

	supersededID := ""
	if prev, err := c.store.GetFileByPath(sess.Path); err == nil {
		if !sess.Overwrite {
			return model.CommitResponse{}, fmt.Errorf("path %s was taken during the upload: %w",
				sess.Path, errdefs.ErrPathConflict)
		}
		supersededID = prev.ID
	}

	file.ModifiedAt = now
	if err := c.store.PublishFile(file, supersededID, now); err != nil {
		return model.CommitResponse{}, err
	}
	if err := c.store.DeleteSession(req.FileID); err != nil {
		return model.CommitResponse{}, err
	}

	metrics.RecordUpload("committed")
	logger.Info("file committed",
		logger.KeyFileID, file.ID,
		logger.KeyPath, file.Path,
		logger.KeySize, file.Size,
		"chunks", len(file.Chunks))
	return model.CommitResponse{Status: "committed", FileID: file.ID}, nil
}

// abandonSession purges an expired session, its provisional file, and the
// chunk bytes its targets may hold. Caller holds the writer lock.
func (c *Coordinator) abandonSession(sess model.UploadSession) {
	if err := c.store.RemoveFile(sess.FileID); err != nil {
		logger.Warn("failed to purge provisional file",
			logger.KeyFileID, sess.FileID,
			logger.KeyError, err.Error())
	}
	if err := c.store.DeleteSession(sess.FileID); err != nil {
		logger.Warn("failed to purge session",
			logger.KeySessionID, sess.FileID,
			logger.KeyError, err.Error())
	}
	metrics.RecordUpload("abandoned")

	// Best effort: orphan bytes that already landed on the planned targets.
	go c.deleteSessionChunks(sess)

	logger.Info("upload session abandoned",
		logger.KeySessionID, sess.FileID,
		logger.KeyPath, sess.Path)
}

// deleteSessionChunks asks every planned target to drop the session's chunk
// ids. Failures are tolerated; unreported orphans simply stay on disk.
func (c *Coordinator) deleteSessionChunks(sess model.UploadSession) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, sc := range sess.Chunks {
		for _, target := range sc.Targets {
			if err := c.workerClient(target.URL).DeleteChunk(ctx, sc.ChunkID); err != nil {
				logger.Debug("orphan chunk delete failed",
					logger.KeyChunkID, sc.ChunkID,
					logger.KeyNodeURL, target.URL,
					logger.KeyError, err.Error())
			}
		}
	}
}

// ============================================================================
// Namespace reads and deletes
// ============================================================================

// List returns committed, non-deleted files under prefix in path order.
func (c *Coordinator) List(prefix string, limit, offset int) ([]model.FileRecord, error) {
	return c.store.ListFiles(prefix, limit, offset)
}

// Get resolves a path to its file record with live replica information.
// Placements on inactive workers are excluded from the view.
func (c *Coordinator) Get(path string) (model.FileRecord, error) {
	file, err := c.store.GetFileByPath(path)
	if err != nil {
		return model.FileRecord{}, err
	}

	active, err := c.activeWorkers(c.now())
	if err != nil {
		return model.FileRecord{}, err
	}
	set := activeSet(active)
	for i := range file.Chunks {
		file.Chunks[i].Replicas = file.Chunks[i].LiveReplicas(set)
	}
	return file, nil
}

// Delete soft-deletes a path, or with permanent set, schedules chunk
// removal on the holding workers and drops the record immediately.
// Deleting a path that does not exist succeeds: delete is idempotent.
func (c *Coordinator) Delete(path string, permanent bool) (model.DeleteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	file, err := c.store.GetFileByPath(path)
	if err != nil {
		return model.DeleteResponse{Status: "deleted", Path: path}, nil
	}

	if permanent {
		go c.deleteFileChunks(file)
		if err := c.store.RemoveFile(file.ID); err != nil {
			return model.DeleteResponse{}, err
		}
	} else {
		file.IsDeleted = true
		file.DeletedAt = &now
		if err := c.store.UpdateFile(file); err != nil {
			return model.DeleteResponse{}, err
		}
	}

	metrics.RecordDelete()
	logger.Info("file deleted",
		logger.KeyPath, path,
		logger.KeyFileID, file.ID,
		"permanent", permanent)
	return model.DeleteResponse{Status: "deleted", Path: path}, nil
}

// deleteFileChunks fires best-effort chunk deletes to every placement of a
// file. Idempotent on the worker side; the next GC pass retries leftovers
// while the worker keeps reporting them.
func (c *Coordinator) deleteFileChunks(file model.FileRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, rec := range file.Chunks {
		for _, p := range rec.Replicas {
			if err := c.workerClient(p.URL).DeleteChunk(ctx, rec.ID); err != nil {
				logger.Debug("chunk delete failed",
					logger.KeyChunkID, rec.ID,
					logger.KeyNodeURL, p.URL,
					logger.KeyError, err.Error())
			}
		}
	}
}

// ============================================================================
// Heartbeats and node views
// ============================================================================

// Heartbeat upserts the worker record and synchronizes the placement index
// to exactly the reported inventory. The report is authoritative: chunks a
// worker stops reporting lose their placement on it.
func (c *Coordinator) Heartbeat(req model.HeartbeatRequest) (model.HeartbeatResponse, error) {
	if err := model.Validate(req); err != nil {
		return model.HeartbeatResponse{}, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	w, err := c.store.GetWorker(req.NodeID)
	if err != nil {
		w = model.WorkerRecord{ID: req.NodeID}
		logger.Info("worker registered",
			logger.KeyNodeID, req.NodeID,
			"host", req.Host,
			"port", req.Port)
	}
	if w.State != model.NodeDecommissioned {
		w.State = model.NodeActive
	}
	w.Host = req.Host
	w.Port = req.Port
	w.Rack = req.Rack
	w.FreeSpace = req.FreeSpace
	w.TotalSpace = req.TotalSpace
	w.ChunkCount = len(req.ChunkIDs)
	w.LastHeartbeat = now

	if err := c.store.PutWorker(w); err != nil {
		return model.HeartbeatResponse{}, err
	}
	if err := c.store.SyncInventory(w.ID, w.URL(), req.ChunkIDs, now); err != nil {
		return model.HeartbeatResponse{}, err
	}

	metrics.RecordHeartbeat()
	logger.Debug("heartbeat processed",
		logger.KeyNodeID, w.ID,
		logger.KeyChunkCount, w.ChunkCount,
		logger.KeyFreeSpace, w.FreeSpace)
	return model.HeartbeatResponse{Status: "ok"}, nil
}

// Nodes returns every known worker with its current liveness view.
func (c *Coordinator) Nodes() ([]model.WorkerRecord, error) {
	all, err := c.store.ListWorkers()
	if err != nil {
		return nil, err
	}
	now := c.now()
	for i := range all {
		all[i] = c.workerView(all[i], now)
	}
	return all, nil
}

// Node returns one worker with its current liveness view.
func (c *Coordinator) Node(nodeID string) (model.WorkerRecord, error) {
	w, err := c.store.GetWorker(nodeID)
	if err != nil {
		return model.WorkerRecord{}, err
	}
	return c.workerView(w, c.now()), nil
}

// Health summarizes cluster liveness for the health endpoint.
func (c *Coordinator) Health() (model.HealthResponse, error) {
	all, err := c.store.ListWorkers()
	if err != nil {
		return model.HealthResponse{}, err
	}
	now := c.now()
	active := 0
	for i := range all {
		if c.isAlive(&all[i], now) {
			active++
		}
	}
	metrics.SetActiveNodes(active)
	return model.HealthResponse{
		Status:    "healthy",
		Timestamp: now.UTC(),
		Details: model.HealthDetails{
			TotalNodes:        len(all),
			ActiveNodes:       active,
			ReplicationFactor: c.cfg.ReplicationFactor,
		},
	}, nil
}

// Stats aggregates cluster-wide counters.
func (c *Coordinator) Stats() (model.SystemStats, error) {
	stats := model.SystemStats{}

	files, err := c.store.ListFiles("", 0, 0)
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)
	for _, f := range files {
		stats.Chunks += len(f.Chunks)
	}

	workers, err := c.store.ListWorkers()
	if err != nil {
		return stats, err
	}
	now := c.now()
	stats.TotalNodes = len(workers)
	for i := range workers {
		stats.TotalSpace += workers[i].TotalSpace
		stats.FreeSpace += workers[i].FreeSpace
		if c.isAlive(&workers[i], now) {
			stats.ActiveNodes++
		}
	}
	stats.UsedSpace = stats.TotalSpace - stats.FreeSpace

	sessions, err := c.store.ListSessions()
	if err != nil {
		return stats, err
	}
	stats.OpenSessions = len(sessions)

	leases, err := c.store.ListLeases()
	if err != nil {
		return stats, err
	}
	for _, l := range leases {
		if !l.Expired(now) {
			stats.ActiveLeases++
		}
	}
	return stats, nil
}

// ============================================================================
// Background loops
// ============================================================================

// RunBackground drives the repair, garbage collection, session sweep, and
// liveness scan loops until the context is cancelled.
func (c *Coordinator) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.repairLoop(ctx) })
	g.Go(func() error { return c.gcLoop(ctx) })
	g.Go(func() error { return c.sweepLoop(ctx) })
	g.Go(func() error { return c.livenessLoop(ctx) })
	return g.Wait()
}

// livenessLoop persists worker state flips so restarts and list views see
// them, and keeps the active-nodes gauge current.
func (c *Coordinator) livenessLoop(ctx context.Context) error {
	period := c.cfg.DeadThreshold / 3
	if period < time.Second {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.scanLiveness()
		}
	}
}

func (c *Coordinator) scanLiveness() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	all, err := c.store.ListWorkers()
	if err != nil {
		logger.Warn("liveness scan failed", logger.KeyError, err.Error())
		return
	}
	active := 0
	for _, w := range all {
		if w.State == model.NodeDecommissioned {
			continue
		}
		alive := c.isAlive(&w, now)
		if alive {
			active++
		}
		want := model.NodeActive
		if !alive {
			want = model.NodeInactive
		}
		if w.State != want {
			w.State = want
			if err := c.store.PutWorker(w); err != nil {
				logger.Warn("failed to persist worker state",
					logger.KeyNodeID, w.ID,
					logger.KeyError, err.Error())
				continue
			}
			logger.Info("worker state changed",
				logger.KeyNodeID, w.ID,
				"state", string(want))
		}
	}
	metrics.SetActiveNodes(active)
}

// sweepLoop reaps expired upload sessions and leases once a minute.
func (c *Coordinator) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.SweepSessions()
			c.sweepLeases()
		}
	}
}

// SweepSessions abandons every session older than the session timeout.
// Exposed for tests; the sweep loop calls it once a minute.
func (c *Coordinator) SweepSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	sessions, err := c.store.ListSessions()
	if err != nil {
		logger.Warn("session sweep failed", logger.KeyError, err.Error())
		return
	}
	for _, sess := range sessions {
		if sess.Expired(now, c.cfg.SessionTimeout) {
			c.abandonSession(sess)
		}
	}
}
