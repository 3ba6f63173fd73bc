package coordinator

import (
	"context"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/model"
)

// gcLoop permanently removes soft-deleted files after the grace period.
func (c *Coordinator) gcLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.GCPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunGCCycle(ctx)
		}
	}
}

// RunGCCycle collects every soft-deleted file whose grace period has
// passed: chunk deletes to the holding workers, then removal of the
// metadata records. A file's records are only removed once every delete on
// a live worker succeeded; otherwise the file is kept for the next pass so
// the bytes are never orphaned. Placements on dead workers cannot block
// removal forever, they are skipped. Exposed for tests.
func (c *Coordinator) RunGCCycle(ctx context.Context) {
	expired := c.collectExpired()
	if len(expired) == 0 {
		return
	}
	logger.Info("gc cycle starting", "expired_files", len(expired))

	c.mu.Lock()
	active, err := c.activeWorkers(c.now())
	c.mu.Unlock()
	if err != nil {
		logger.Warn("gc worker scan failed", logger.KeyError, err.Error())
		return
	}
	alive := activeSet(active)

	removed := 0
	for _, f := range expired {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if failed := c.deleteFileChunksSync(ctx, f, alive); failed > 0 {
			logger.Warn("gc deferring file removal",
				logger.KeyFileID, f.ID,
				logger.KeyPath, f.Path,
				"failed_deletes", failed)
			continue
		}

		c.mu.Lock()
		err := c.store.RemoveFile(f.ID)
		c.mu.Unlock()
		if err != nil {
			logger.Warn("gc failed to remove file record",
				logger.KeyFileID, f.ID,
				logger.KeyError, err.Error())
			continue
		}
		removed++
		logger.Info("file garbage collected",
			logger.KeyFileID, f.ID,
			logger.KeyPath, f.Path,
			"chunks", len(f.Chunks))
	}
	metrics.RecordGCRemoved(removed)
}

// collectExpired snapshots soft-deleted files older than the grace period.
func (c *Coordinator) collectExpired() []model.FileRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.cfg.GCGrace)

	files, err := c.store.ListAllFiles()
	if err != nil {
		logger.Warn("gc scan failed", logger.KeyError, err.Error())
		return nil
	}

	var expired []model.FileRecord
	for _, f := range files {
		if f.IsDeleted && f.DeletedAt != nil && f.DeletedAt.Before(cutoff) {
			expired = append(expired, f)
		}
	}
	return expired
}

// deleteFileChunksSync sends chunk deletes to every placement and waits for
// the answers. It returns the number of deletes that failed on a worker
// still considered alive; failures on dead workers are logged but not
// counted, their chunks disappear with the worker.
func (c *Coordinator) deleteFileChunksSync(ctx context.Context, file model.FileRecord, alive map[string]bool) int {
	failed := 0
	for _, rec := range file.Chunks {
		for _, p := range rec.Replicas {
			err := c.workerClient(p.URL).DeleteChunk(ctx, rec.ID)
			if err == nil {
				continue
			}
			logger.Debug("gc chunk delete failed",
				logger.KeyChunkID, rec.ID,
				logger.KeyNodeURL, p.URL,
				logger.KeyError, err.Error())
			if alive[p.NodeID] {
				failed++
			}
		}
	}
	return failed
}
