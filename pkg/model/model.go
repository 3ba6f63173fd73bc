// Package model defines the shared metadata records and wire types used by
// the coordinator, the storage workers, and the client library.
//
// Records (FileRecord, ChunkRecord, ReplicaPlacement, WorkerRecord) are owned
// and mutated exclusively by the coordinator. Wire types carry requests and
// responses over the HTTP API and are validated at the boundary.
package model

import (
	"strconv"
	"time"
)

// ============================================================================
// State enums
// ============================================================================

// PlacementState tracks the lifecycle of a (chunk, worker) placement.
type PlacementState string

const (
	// PlacementPending means the coordinator scheduled the copy but the worker
	// has not yet confirmed it through a heartbeat.
	PlacementPending PlacementState = "pending"
	// PlacementCommitted means the worker reported the chunk in its inventory.
	PlacementCommitted PlacementState = "committed"
	// PlacementCorrupted means a read detected a checksum mismatch on this copy.
	PlacementCorrupted PlacementState = "corrupted"
	// PlacementDeleted means the copy is scheduled for physical removal.
	PlacementDeleted PlacementState = "deleted"
)

// NodeState tracks worker liveness as seen by the coordinator.
type NodeState string

const (
	NodeActive         NodeState = "active"
	NodeInactive       NodeState = "inactive"
	NodeDecommissioned NodeState = "decommissioned"
)

// ============================================================================
// Metadata records
// ============================================================================

// ReplicaPlacement asserts that a specific worker holds a specific chunk.
type ReplicaPlacement struct {
	NodeID        string         `json:"node_id"`
	URL           string         `json:"url"`
	State         PlacementState `json:"state"`
	LastConfirmed time.Time      `json:"last_confirmed"`
	Verified      bool           `json:"verified"`
}

// ChunkRecord describes one chunk of a file. The checksum is set at commit
// and immutable afterwards; any bytes served for this chunk must match it.
type ChunkRecord struct {
	ID       string             `json:"chunk_id"`
	SeqIndex int                `json:"seq_index"`
	Size     int64              `json:"size"`
	Checksum string             `json:"checksum,omitempty"`
	Replicas []ReplicaPlacement `json:"replicas"`
}

// FileRecord is the metadata for one logical path. A provisional record
// (created at upload-init, not yet committed) is invisible to list and get.
type FileRecord struct {
	ID           string        `json:"file_id"`
	Path         string        `json:"path"`
	Size         int64         `json:"size"`
	CreatedAt    time.Time     `json:"created_at"`
	ModifiedAt   time.Time     `json:"modified_at"`
	Chunks       []ChunkRecord `json:"chunks"`
	Committed    bool          `json:"committed"`
	IsDeleted    bool          `json:"is_deleted,omitempty"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	Compressed   bool          `json:"compressed,omitempty"`
	OriginalSize int64         `json:"original_size,omitempty"`
}

// LiveReplicas returns the placements of chunk c that are committed on
// workers present in the active set.
func (c *ChunkRecord) LiveReplicas(active map[string]bool) []ReplicaPlacement {
	var live []ReplicaPlacement
	for _, p := range c.Replicas {
		if p.State == PlacementCommitted && active[p.NodeID] {
			live = append(live, p)
		}
	}
	return live
}

// HasReplicaOn reports whether the chunk has any non-deleted placement on the
// given worker.
func (c *ChunkRecord) HasReplicaOn(nodeID string) bool {
	for _, p := range c.Replicas {
		if p.NodeID == nodeID && p.State != PlacementDeleted {
			return true
		}
	}
	return false
}

// WorkerRecord is the coordinator's view of one storage worker. Created on
// first heartbeat, kept across restarts, decommissioned only by admin action.
type WorkerRecord struct {
	ID            string    `json:"node_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Rack          string    `json:"rack,omitempty"`
	FreeSpace     int64     `json:"free_space"`
	TotalSpace    int64     `json:"total_space"`
	ChunkCount    int       `json:"chunk_count"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	State         NodeState `json:"state"`
}

// URL returns the worker's reachable base URL.
func (w *WorkerRecord) URL() string {
	return "http://" + w.Host + ":" + strconv.Itoa(w.Port)
}

// FreeRatio returns free/total space, or 0 when total is unknown.
func (w *WorkerRecord) FreeRatio() float64 {
	if w.TotalSpace <= 0 {
		return 0
	}
	return float64(w.FreeSpace) / float64(w.TotalSpace)
}

// ============================================================================
// Transient coordinator state
// ============================================================================

// PlacementTarget is one scheduled destination for a chunk upload.
type PlacementTarget struct {
	NodeID string `json:"node_id"`
	URL    string `json:"url"`
}

// SessionChunk is the per-chunk portion of an upload session plan.
type SessionChunk struct {
	ChunkID string            `json:"chunk_id"`
	Size    int64             `json:"size"`
	Targets []PlacementTarget `json:"targets"`
}

// UploadSession binds a provisional file id to a plan of chunk ids and target
// workers. Created at init, destroyed on commit or after the session timeout.
type UploadSession struct {
	FileID    string         `json:"file_id"`
	Path      string         `json:"path"`
	Size      int64          `json:"size"`
	ChunkSize int64          `json:"chunk_size"`
	Chunks    []SessionChunk `json:"chunks"`
	CreatedAt time.Time      `json:"created_at"`
	Overwrite bool           `json:"overwrite"`
	LeaseID   string         `json:"lease_id,omitempty"`
}

// Expired reports whether the session is older than the given lifetime.
func (s *UploadSession) Expired(now time.Time, lifetime time.Duration) bool {
	return now.Sub(s.CreatedAt) > lifetime
}

// Lease grants exclusive write access to a path until it expires.
type Lease struct {
	ID        string    `json:"lease_id"`
	Path      string    `json:"path"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease expired at or before now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
