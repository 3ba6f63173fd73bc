package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across coordinator, worker, and client code so
// that log aggregation and querying work across all three components.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation
	// ========================================================================
	KeyOperation = "operation"   // Operation name: upload-init, commit, heartbeat, repair, ...
	KeyStatus    = "status"      // HTTP or operation status code
	KeyRequestID = "request_id"  // HTTP request ID (chi middleware)
	KeyClientIP  = "client_ip"   // Client IP address
	KeyDuration  = "duration_ms" // Operation duration in milliseconds
	KeyError     = "error"       // Error message

	// ========================================================================
	// Namespace
	// ========================================================================
	KeyPath   = "path"    // Logical file path in the namespace
	KeyFileID = "file_id" // File UUID
	KeySize   = "size"    // Size in bytes

	// ========================================================================
	// Chunks & Replicas
	// ========================================================================
	KeyChunkID  = "chunk_id"  // Chunk UUID
	KeySeqIndex = "seq_index" // Chunk sequence index within its file
	KeyChecksum = "checksum"  // SHA-256 hex digest
	KeyReplicas = "replicas"  // Replica count
	KeyTarget   = "target"    // Replication target URL

	// ========================================================================
	// Workers
	// ========================================================================
	KeyNodeID     = "node_id"     // Storage worker id (node-<host>-<port>)
	KeyNodeURL    = "node_url"    // Worker base URL
	KeyFreeSpace  = "free_space"  // Free bytes on the worker mount
	KeyTotalSpace = "total_space" // Total bytes on the worker mount
	KeyChunkCount = "chunk_count" // Chunks held by a worker

	// ========================================================================
	// Sessions & Leases
	// ========================================================================
	KeySessionID = "session_id" // Upload session (file) id
	KeyLeaseID   = "lease_id"   // Path lease id

	// ========================================================================
	// Retries
	// ========================================================================
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Status returns a slog.Attr for an HTTP or operation status code.
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Path returns a slog.Attr for a logical file path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// FileID returns a slog.Attr for a file UUID.
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// Size returns a slog.Attr for a byte size.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// ChunkID returns a slog.Attr for a chunk UUID.
func ChunkID(id string) slog.Attr {
	return slog.String(KeyChunkID, id)
}

// SeqIndex returns a slog.Attr for a chunk sequence index.
func SeqIndex(i int) slog.Attr {
	return slog.Int(KeySeqIndex, i)
}

// Checksum returns a slog.Attr for a SHA-256 hex digest.
func Checksum(sum string) slog.Attr {
	return slog.String(KeyChecksum, sum)
}

// Replicas returns a slog.Attr for a replica count.
func Replicas(n int) slog.Attr {
	return slog.Int(KeyReplicas, n)
}

// Target returns a slog.Attr for a replication target URL.
func Target(url string) slog.Attr {
	return slog.String(KeyTarget, url)
}

// NodeID returns a slog.Attr for a worker id.
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// NodeURL returns a slog.Attr for a worker base URL.
func NodeURL(url string) slog.Attr {
	return slog.String(KeyNodeURL, url)
}

// FreeSpace returns a slog.Attr for free bytes.
func FreeSpace(b int64) slog.Attr {
	return slog.Int64(KeyFreeSpace, b)
}

// ChunkCount returns a slog.Attr for a worker chunk count.
func ChunkCount(n int) slog.Attr {
	return slog.Int(KeyChunkCount, n)
}

// SessionID returns a slog.Attr for an upload session id.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// LeaseID returns a slog.Attr for a path lease id.
func LeaseID(id string) slog.Attr {
	return slog.String(KeyLeaseID, id)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDuration, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
