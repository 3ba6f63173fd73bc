package model

import "time"

// Wire types for the coordinator and worker HTTP APIs. Every inbound body is
// decoded into one of these and validated before it reaches a handler.

// ============================================================================
// Upload
// ============================================================================

// UploadInitRequest starts a three-phase upload.
type UploadInitRequest struct {
	Path         string `json:"path" validate:"required,startswith=/"`
	Size         int64  `json:"size" validate:"gte=0"`
	Overwrite    bool   `json:"overwrite,omitempty"`
	Compressed   bool   `json:"compressed,omitempty"`
	OriginalSize int64  `json:"original_size,omitempty" validate:"gte=0"`
}

// ChunkPlan is the client-facing slice of an upload plan: where to send the
// bytes of one chunk. Targets are ordered; the first is the primary and the
// rest form the pipeline chain.
type ChunkPlan struct {
	ChunkID string   `json:"chunk_id"`
	Size    int64    `json:"size"`
	Targets []string `json:"targets"`
}

// UploadPlan is the upload-init response. ChunkSize is authoritative: the
// client must slice the file with it regardless of any local preference.
type UploadPlan struct {
	FileID    string      `json:"file_id"`
	ChunkSize int64       `json:"chunk_size"`
	Chunks    []ChunkPlan `json:"chunks"`
}

// CommitChunk reports one uploaded chunk: its digest and the workers that
// acknowledged the bytes.
type CommitChunk struct {
	ChunkID  string   `json:"chunk_id" validate:"required,uuid4"`
	Checksum string   `json:"checksum" validate:"required,len=64,hexadecimal"`
	Nodes    []string `json:"nodes" validate:"required"`
}

// CommitRequest finishes an upload session.
type CommitRequest struct {
	FileID string        `json:"file_id" validate:"required,uuid4"`
	Chunks []CommitChunk `json:"chunks" validate:"dive"`
}

// CommitResponse acknowledges a published file.
type CommitResponse struct {
	Status string `json:"status"`
	FileID string `json:"file_id"`
}

// DeleteResponse acknowledges a file delete.
type DeleteResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// ============================================================================
// Heartbeat and nodes
// ============================================================================

// HeartbeatRequest is the periodic worker report. ChunkIDs is authoritative:
// the coordinator synchronizes its placement index to exactly this set.
type HeartbeatRequest struct {
	NodeID     string   `json:"node_id" validate:"required"`
	Host       string   `json:"host" validate:"required"`
	Port       int      `json:"port" validate:"required,gt=0,lte=65535"`
	Rack       string   `json:"rack,omitempty"`
	FreeSpace  int64    `json:"free_space" validate:"gte=0"`
	TotalSpace int64    `json:"total_space" validate:"gte=0"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// HeartbeatResponse acknowledges a processed heartbeat.
type HeartbeatResponse struct {
	Status string `json:"status"`
}

// ============================================================================
// Health and stats
// ============================================================================

// HealthDetails is the coordinator health payload.
type HealthDetails struct {
	TotalNodes        int `json:"total_nodes"`
	ActiveNodes       int `json:"active_nodes"`
	ReplicationFactor int `json:"replication_factor"`
}

// HealthResponse is the coordinator /health envelope.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Details   HealthDetails `json:"details"`
}

// WorkerHealth is the worker /health payload.
type WorkerHealth struct {
	Status     string `json:"status"`
	NodeID     string `json:"node_id"`
	FreeSpace  int64  `json:"free_space"`
	TotalSpace int64  `json:"total_space"`
	ChunkCount int    `json:"chunk_count"`
}

// SystemStats aggregates cluster-wide counters for the stats endpoint.
type SystemStats struct {
	Files        int   `json:"files"`
	Chunks       int   `json:"chunks"`
	TotalNodes   int   `json:"total_nodes"`
	ActiveNodes  int   `json:"active_nodes"`
	TotalSpace   int64 `json:"total_space"`
	FreeSpace    int64 `json:"free_space"`
	UsedSpace    int64 `json:"used_space"`
	ActiveLeases int   `json:"active_leases"`
	OpenSessions int   `json:"open_sessions"`
}

// ============================================================================
// Worker chunk transfer
// ============================================================================

// PutChunkResponse reports the outcome of a chunk PUT, including every worker
// id that acknowledged the bytes (self plus pipeline peers).
type PutChunkResponse struct {
	Status   string   `json:"status"`
	ChunkID  string   `json:"chunk_id"`
	Size     int64    `json:"size"`
	Checksum string   `json:"checksum"`
	Nodes    []string `json:"nodes"`
}

// ReplicateRequest asks a worker to copy one of its chunks to a peer.
type ReplicateRequest struct {
	DestinationURL string `json:"destination_url" validate:"required,url"`
}

// ReplicateResponse acknowledges a completed source-driven copy.
type ReplicateResponse struct {
	Status  string `json:"status"`
	ChunkID string `json:"chunk_id"`
}

// ProxyPutResponse reports the workers that acknowledged a proxied chunk
// upload.
type ProxyPutResponse struct {
	Status string   `json:"status"`
	Nodes  []string `json:"nodes"`
}

// ============================================================================
// Leases
// ============================================================================

// LeaseAcquireRequest asks for an exclusive write lease on a path.
type LeaseAcquireRequest struct {
	Path     string `json:"path" validate:"required,startswith=/"`
	ClientID string `json:"client_id" validate:"required"`
	TTLSecs  int    `json:"ttl_secs,omitempty" validate:"gte=0,lte=3600"`
}

// LeaseReleaseRequest releases a previously acquired lease.
type LeaseReleaseRequest struct {
	LeaseID string `json:"lease_id" validate:"required"`
}
