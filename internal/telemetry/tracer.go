package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for file and chunk operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Namespace attributes
	// ========================================================================
	AttrPath      = "fs.path"      // Logical file path
	AttrFileID    = "fs.file_id"   // File UUID
	AttrSize      = "fs.size"      // File size in bytes
	AttrOperation = "fs.operation" // Generic operation name
	AttrStatus    = "fs.status"    // Operation status code
	AttrOverwrite = "fs.overwrite" // Overwrite flag on uploads
	AttrPermanent = "fs.permanent" // Permanent flag on deletes

	// ========================================================================
	// Chunk and replica attributes
	// ========================================================================
	AttrChunkID   = "chunk.id"
	AttrChunkSize = "chunk.size"
	AttrSeqIndex  = "chunk.seq_index"
	AttrChecksum  = "chunk.checksum"
	AttrReplicas  = "chunk.replicas"

	// ========================================================================
	// Worker attributes
	// ========================================================================
	AttrNodeID     = "node.id"
	AttrNodeURL    = "node.url"
	AttrFreeSpace  = "node.free_space"
	AttrTotalSpace = "node.total_space"
	AttrRack       = "node.rack"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Coordinator API spans
	SpanUploadInit = "coordinator.upload_init"
	SpanCommit     = "coordinator.commit"
	SpanListFiles  = "coordinator.list_files"
	SpanGetFile    = "coordinator.get_file"
	SpanDeleteFile = "coordinator.delete_file"
	SpanHeartbeat  = "coordinator.heartbeat"
	SpanProxyPut   = "coordinator.proxy_put"
	SpanProxyGet   = "coordinator.proxy_get"

	// Background loop spans
	SpanRepairCycle = "repair.cycle"
	SpanRepairCopy  = "repair.copy"
	SpanGCCycle     = "gc.cycle"
	SpanSweep       = "session.sweep"

	// Worker chunk spans
	SpanChunkPut       = "worker.chunk_put"
	SpanChunkGet       = "worker.chunk_get"
	SpanChunkDelete    = "worker.chunk_delete"
	SpanChunkReplicate = "worker.chunk_replicate"
	SpanScrub          = "worker.scrub"

	// Client transfer spans
	SpanUpload        = "client.upload"
	SpanDownload      = "client.download"
	SpanChunkTransfer = "client.chunk_transfer"
)

// ClientIP returns an attribute for a client IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for a full client address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Path returns an attribute for a logical file path.
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// FileID returns an attribute for a file UUID.
func FileID(id string) attribute.KeyValue {
	return attribute.String(AttrFileID, id)
}

// Size returns an attribute for a byte size.
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Status returns an attribute for an operation status code.
func Status(code int) attribute.KeyValue {
	return attribute.Int64(AttrStatus, int64(code))
}

// ChunkID returns an attribute for a chunk UUID.
func ChunkID(id string) attribute.KeyValue {
	return attribute.String(AttrChunkID, id)
}

// ChunkSize returns an attribute for a chunk byte size.
func ChunkSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrChunkSize, size)
}

// SeqIndex returns an attribute for a chunk sequence index.
func SeqIndex(i int) attribute.KeyValue {
	return attribute.Int64(AttrSeqIndex, int64(i))
}

// Checksum returns an attribute for a SHA-256 hex digest.
func Checksum(sum string) attribute.KeyValue {
	return attribute.String(AttrChecksum, sum)
}

// Replicas returns an attribute for a replica count.
func Replicas(n int) attribute.KeyValue {
	return attribute.Int64(AttrReplicas, int64(n))
}

// NodeID returns an attribute for a worker id.
func NodeID(id string) attribute.KeyValue {
	return attribute.String(AttrNodeID, id)
}

// NodeURL returns an attribute for a worker base URL.
func NodeURL(url string) attribute.KeyValue {
	return attribute.String(AttrNodeURL, url)
}

// FreeSpace returns an attribute for free bytes on a worker.
func FreeSpace(b int64) attribute.KeyValue {
	return attribute.Int64(AttrFreeSpace, b)
}

// Rack returns an attribute for a worker rack label.
func Rack(rack string) attribute.KeyValue {
	return attribute.String(AttrRack, rack)
}

// StartFileSpan starts a span for a namespace operation on a path.
func StartFileSpan(ctx context.Context, name, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Path(path)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartChunkSpan starts a span for a chunk transfer or mutation.
func StartChunkSpan(ctx context.Context, name, chunkID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{ChunkID(chunkID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}
