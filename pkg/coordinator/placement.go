package coordinator

import (
	"sort"

	"github.com/driftfs/driftfs/pkg/model"
)

// minFreeRatio is the free-space floor below which a worker stops receiving
// new placements.
const minFreeRatio = 0.10

// eligible reports whether a worker can accept a chunk of the given size.
func eligible(w *model.WorkerRecord, chunkSize int64) bool {
	return w.FreeRatio() >= minFreeRatio && w.FreeSpace >= chunkSize
}

// sortWorkers orders a snapshot by stable id so placement is deterministic
// for a given active set.
func sortWorkers(workers []model.WorkerRecord) []model.WorkerRecord {
	sorted := make([]model.WorkerRecord, len(workers))
	copy(sorted, workers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

// pickTargets selects up to r distinct workers for the chunk at seqIndex.
//
// Capacity-aware round-robin: workers are sorted by stable id and the
// rotation for chunk i starts at index i mod |W|, so consecutive chunks
// spread across the cluster. Workers below the free-space floor or without
// room for the chunk are skipped. The result is deterministic for a given
// snapshot; a short (or empty) result means the cluster lacks capacity.
func pickTargets(active []model.WorkerRecord, seqIndex int, chunkSize int64, r int, rackAware bool) []model.PlacementTarget {
	n := len(active)
	if n == 0 || r <= 0 {
		return nil
	}
	sorted := sortWorkers(active)

	var picked []model.WorkerRecord
	start := seqIndex % n
	for k := 0; k < n && len(picked) < r; k++ {
		w := sorted[(start+k)%n]
		if eligible(&w, chunkSize) {
			picked = append(picked, w)
		}
	}

	if rackAware {
		picked = spreadRacks(picked, sorted, chunkSize)
	}

	targets := make([]model.PlacementTarget, 0, len(picked))
	for _, w := range picked {
		targets = append(targets, model.PlacementTarget{NodeID: w.ID, URL: w.URL()})
	}
	return targets
}

// spreadRacks enforces that at least one replica lives on a different rack
// than the rest, when rack labels exist. If every picked worker shares one
// rack and an eligible worker on another rack was passed over, the last pick
// is swapped for it. Vacuous when racks are unset.
func spreadRacks(picked, sorted []model.WorkerRecord, chunkSize int64) []model.WorkerRecord {
	if len(picked) < 2 {
		return picked
	}
	rack := picked[0].Rack
	if rack == "" {
		return picked
	}
	for _, w := range picked[1:] {
		if w.Rack != rack {
			return picked
		}
	}

	chosen := make(map[string]bool, len(picked))
	for _, w := range picked {
		chosen[w.ID] = true
	}
	for _, w := range sorted {
		if !chosen[w.ID] && w.Rack != "" && w.Rack != rack && eligible(&w, chunkSize) {
			picked[len(picked)-1] = w
			return picked
		}
	}
	return picked
}

// pickRepairDestination chooses a destination for a new replica: an active
// worker that does not already hold the chunk and has room for it. Among
// candidates the one with the most free bytes wins, with the stable id as
// the final tie-break.
func pickRepairDestination(active []model.WorkerRecord, holders map[string]bool, chunkSize int64) (model.WorkerRecord, bool) {
	var best model.WorkerRecord
	found := false
	for _, w := range sortWorkers(active) {
		if holders[w.ID] || !eligible(&w, chunkSize) {
			continue
		}
		if !found || w.FreeSpace > best.FreeSpace {
			best = w
			found = true
		}
	}
	return best, found
}
