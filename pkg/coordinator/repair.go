package coordinator

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/model"
)

// repairTask is one under-replicated chunk. Priority is R minus the live
// replica count, so chunks one failure away from data loss go first.
type repairTask struct {
	fileID   string
	chunkID  string
	size     int64
	priority int
	source   model.ReplicaPlacement
	holders  map[string]bool
}

// repairLoop runs one reconciliation cycle per repair period.
func (c *Coordinator) repairLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.RepairPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunRepairCycle(ctx)
			if c.cfg.Rebalance {
				c.runRebalanceCycle(ctx)
			}
		}
	}
}

// RunRepairCycle finds every committed chunk with fewer than R replicas on
// active workers and schedules copies to restore them, bounded by the
// repair semaphore. Exposed for tests; the repair loop calls it on its
// period.
func (c *Coordinator) RunRepairCycle(ctx context.Context) {
	tasks := c.collectRepairTasks()
	if len(tasks) == 0 {
		return
	}
	logger.Info("repair cycle starting", "under_replicated", len(tasks))

	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrentRepairs))
	for _, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(task repairTask) {
			defer sem.Release(1)
			c.executeRepair(ctx, task)
		}(task)
	}
	// Drain so one cycle's copies do not overlap the next scan.
	if err := sem.Acquire(ctx, int64(c.cfg.MaxConcurrentRepairs)); err != nil {
		return
	}
	sem.Release(int64(c.cfg.MaxConcurrentRepairs))
}

// collectRepairTasks snapshots the metadata and returns under-replicated
// chunks ordered by descending priority. Chunks with zero live replicas
// cannot be repaired (no source) and are logged instead.
func (c *Coordinator) collectRepairTasks() []repairTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	active, err := c.activeWorkers(now)
	if err != nil {
		logger.Warn("repair scan failed", logger.KeyError, err.Error())
		return nil
	}
	set := activeSet(active)

	files, err := c.store.ListAllFiles()
	if err != nil {
		logger.Warn("repair scan failed", logger.KeyError, err.Error())
		return nil
	}

	var tasks []repairTask
	for _, f := range files {
		if !f.Committed || f.IsDeleted {
			continue
		}
		for _, rec := range f.Chunks {
			live := rec.LiveReplicas(set)
			if len(live) >= c.cfg.ReplicationFactor {
				continue
			}
			if len(live) == 0 {
				logger.Error("chunk has no live replicas, cannot repair",
					logger.KeyChunkID, rec.ID,
					logger.KeyFileID, f.ID,
					logger.KeyPath, f.Path)
				continue
			}

			holders := make(map[string]bool)
			for _, p := range rec.Replicas {
				if p.State != model.PlacementDeleted {
					holders[p.NodeID] = true
				}
			}
			tasks = append(tasks, repairTask{
				fileID:   f.ID,
				chunkID:  rec.ID,
				size:     rec.Size,
				priority: c.cfg.ReplicationFactor - len(live),
				source:   live[0],
				holders:  holders,
			})
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].priority != tasks[j].priority {
			return tasks[i].priority > tasks[j].priority
		}
		return tasks[i].chunkID < tasks[j].chunkID
	})
	return tasks
}

// executeRepair copies one chunk from a live holder to a fresh destination
// and records the pending placement the next heartbeat will promote. A
// cycle with no eligible destination skips the task; the next cycle
// retries.
func (c *Coordinator) executeRepair(ctx context.Context, task repairTask) {
	c.mu.Lock()
	active, err := c.activeWorkers(c.now())
	c.mu.Unlock()
	if err != nil {
		return
	}

	dest, ok := pickRepairDestination(active, task.holders, task.size)
	if !ok {
		logger.Debug("no eligible destination for chunk, retrying next cycle",
			logger.KeyChunkID, task.chunkID)
		return
	}

	if _, err := c.workerClient(task.source.URL).Replicate(ctx, task.chunkID, dest.URL()); err != nil {
		metrics.RecordRepair("failed")
		logger.Warn("repair copy failed",
			logger.KeyChunkID, task.chunkID,
			logger.KeyNodeURL, task.source.URL,
			logger.KeyTarget, dest.URL(),
			logger.KeyError, err.Error())
		return
	}

	if err := c.addPendingPlacement(task.fileID, task.chunkID, dest); err != nil {
		logger.Warn("failed to record pending placement",
			logger.KeyChunkID, task.chunkID,
			logger.KeyError, err.Error())
		return
	}
	metrics.RecordRepair("scheduled")
	logger.Info("chunk re-replicated",
		logger.KeyChunkID, task.chunkID,
		logger.KeyNodeID, dest.ID,
		"priority", task.priority)
}

// addPendingPlacement records that a copy is in flight to a worker. The
// worker's next heartbeat promotes it to committed, or removes it if the
// copy never landed.
func (c *Coordinator) addPendingPlacement(fileID, chunkID string, dest model.WorkerRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.store.GetFileByID(fileID)
	if err != nil {
		return err
	}
	for i := range file.Chunks {
		rec := &file.Chunks[i]
		if rec.ID != chunkID {
			continue
		}
		if rec.HasReplicaOn(dest.ID) {
			return nil
		}
		rec.Replicas = append(rec.Replicas, model.ReplicaPlacement{
			NodeID: dest.ID,
			URL:    dest.URL(),
			State:  model.PlacementPending,
		})
		return c.store.UpdateFile(file)
	}
	return errdefs.ErrNotFound
}

// ============================================================================
// Rebalance (optional, off by default)
// ============================================================================

// runRebalanceCycle moves placements from workers above average utilization
// to workers below it, at most one move per hot worker per cycle. The move
// is copy first; the source copy is only dropped in a later cycle, once the
// destination's heartbeat has committed the new placement and the chunk is
// over-replicated.
func (c *Coordinator) runRebalanceCycle(ctx context.Context) {
	moves := c.collectRebalanceMoves()
	for _, task := range moves {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.executeRebalance(ctx, task)
	}
}

type rebalanceMove struct {
	task   repairTask
	drop   bool   // over-replicated: drop from the hot holder instead of copying
	hot    string // node id of the most loaded holder
	hotURL string
}

func (c *Coordinator) collectRebalanceMoves() []rebalanceMove {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	active, err := c.activeWorkers(now)
	if err != nil || len(active) < 2 {
		return nil
	}
	set := activeSet(active)

	var usedSum float64
	usage := make(map[string]float64, len(active))
	for _, w := range active {
		u := 1 - w.FreeRatio()
		usage[w.ID] = u
		usedSum += u
	}
	avg := usedSum / float64(len(active))

	files, err := c.store.ListAllFiles()
	if err != nil {
		return nil
	}

	var moves []rebalanceMove
	seenHot := make(map[string]bool)
	for _, f := range files {
		if !f.Committed || f.IsDeleted {
			continue
		}
		for _, rec := range f.Chunks {
			live := rec.LiveReplicas(set)
			holders := make(map[string]bool)
			for _, p := range rec.Replicas {
				if p.State != model.PlacementDeleted {
					holders[p.NodeID] = true
				}
			}

			// Phase 2 of an earlier move: drop the hottest holder of an
			// over-replicated chunk.
			if len(live) > c.cfg.ReplicationFactor {
				hot := hottestHolder(live, usage)
				moves = append(moves, rebalanceMove{
					task: repairTask{fileID: f.ID, chunkID: rec.ID, size: rec.Size},
					drop: true, hot: hot.NodeID, hotURL: hot.URL,
				})
				continue
			}
			if len(live) != c.cfg.ReplicationFactor {
				continue
			}

			hot := hottestHolder(live, usage)
			if usage[hot.NodeID] <= avg || seenHot[hot.NodeID] {
				continue
			}
			// Only move when a below-average worker without this chunk exists.
			dest, ok := pickRepairDestination(active, holders, rec.Size)
			if !ok || usage[dest.ID] >= avg {
				continue
			}
			seenHot[hot.NodeID] = true
			moves = append(moves, rebalanceMove{
				task: repairTask{
					fileID:  f.ID,
					chunkID: rec.ID,
					size:    rec.Size,
					source:  hot,
					holders: holders,
				},
			})
		}
	}
	return moves
}

func hottestHolder(live []model.ReplicaPlacement, usage map[string]float64) model.ReplicaPlacement {
	hot := live[0]
	for _, p := range live[1:] {
		if usage[p.NodeID] > usage[hot.NodeID] {
			hot = p
		}
	}
	return hot
}

func (c *Coordinator) executeRebalance(ctx context.Context, move rebalanceMove) {
	if move.drop {
		// The destination heartbeat confirmed the copy; shed the hot replica.
		if err := c.workerClient(move.hotURL).DeleteChunk(ctx, move.task.chunkID); err != nil {
			logger.Debug("rebalance drop failed",
				logger.KeyChunkID, move.task.chunkID,
				logger.KeyNodeID, move.hot,
				logger.KeyError, err.Error())
		}
		return
	}
	c.executeRepair(ctx, move.task)
}
