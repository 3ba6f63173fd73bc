package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture points the package logger at a buffer for the duration of a test.
func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)
	t.Cleanup(func() { InitWithWriter(io.Discard, "INFO", "text", false) })
	return &buf
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want string
	}{
		{"trace id", TraceID("abc123"), KeyTraceID, "abc123"},
		{"span id", SpanID("def456"), KeySpanID, "def456"},
		{"operation", Operation("upload-init"), KeyOperation, "upload-init"},
		{"path", Path("/docs/a.txt"), KeyPath, "/docs/a.txt"},
		{"file id", FileID("f-1"), KeyFileID, "f-1"},
		{"chunk id", ChunkID("c-1"), KeyChunkID, "c-1"},
		{"checksum", Checksum("deadbeef"), KeyChecksum, "deadbeef"},
		{"node id", NodeID("node-a"), KeyNodeID, "node-a"},
		{"node url", NodeURL("http://w1:9001"), KeyNodeURL, "http://w1:9001"},
		{"target", Target("http://w2:9002"), KeyTarget, "http://w2:9002"},
		{"session id", SessionID("s-1"), KeySessionID, "s-1"},
		{"lease id", LeaseID("l-1"), KeyLeaseID, "l-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.String())
		})
	}

	t.Run("numeric fields", func(t *testing.T) {
		assert.Equal(t, int64(42), Size(42).Value.Int64())
		assert.Equal(t, int64(3), Replicas(3).Value.Int64())
		assert.Equal(t, int64(7), SeqIndex(7).Value.Int64())
		assert.Equal(t, int64(1024), FreeSpace(1024).Value.Int64())
		assert.Equal(t, int64(12), ChunkCount(12).Value.Int64())
		assert.Equal(t, int64(2), Attempt(2).Value.Int64())
		assert.Equal(t, int64(200), Status(200).Value.Int64())
		assert.Equal(t, 1.5, DurationMs(1.5).Value.Float64())
	})
}

func TestErrField(t *testing.T) {
	attr := Err(errors.New("chunk digest mismatch"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "chunk digest mismatch", attr.Value.String())

	assert.True(t, Err(nil).Equal(slog.Attr{}))
}

func TestJSONOutputCarriesDomainFields(t *testing.T) {
	buf := capture(t, "DEBUG", "json")

	Info("chunk replicated",
		ChunkID("c-1"),
		NodeID("node-a"),
		Target("http://w2:9002"),
		Replicas(2),
		Size(65536))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "chunk replicated", entry["msg"])
	assert.Equal(t, "c-1", entry[KeyChunkID])
	assert.Equal(t, "node-a", entry[KeyNodeID])
	assert.Equal(t, "http://w2:9002", entry[KeyTarget])
	assert.Equal(t, float64(2), entry[KeyReplicas])
	assert.Equal(t, float64(65536), entry[KeySize])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN", "json")

	Debug("scan tick", NodeID("node-a"))
	Info("heartbeat accepted", NodeID("node-a"))
	Warn("heartbeat late", NodeID("node-a"))
	Error("heartbeat failed", NodeID("node-a"), Err(errors.New("refused")))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat late", entries[0]["msg"])
	assert.Equal(t, "heartbeat failed", entries[1]["msg"])
	assert.Equal(t, "refused", entries[1][KeyError])
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	buf := capture(t, "ERROR", "json")
	SetLevel("shouting") // no such level, keeps ERROR

	Warn("free space low", FreeSpace(10))
	assert.Empty(t, strings.TrimSpace(buf.String()))

	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("chunk stored", ChunkID("c-1"), Size(128))

	out := buf.String()
	assert.Contains(t, out, "[INFO] chunk stored")
	assert.Contains(t, out, " chunk_id=c-1")
	assert.Contains(t, out, " size=128")
	assert.NotContains(t, out, "\033[", "color disabled")
}

func TestWithBindsFields(t *testing.T) {
	buf := capture(t, "INFO", "json")

	wl := With(NodeID("node-a"), NodeURL("http://w1:9001"))
	wl.Info("inventory scan done", ChunkCount(3))
	wl.Info("heartbeat sent", FreeSpace(512))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, "node-a", entry[KeyNodeID])
		assert.Equal(t, "http://w1:9001", entry[KeyNodeURL])
	}
	assert.Equal(t, float64(3), entries[0][KeyChunkCount])
	assert.Equal(t, float64(512), entries[1][KeyFreeSpace])
}

func TestLogContextRoundTrip(t *testing.T) {
	lc := NewLogContext("10.0.0.5")
	lc = lc.WithOperation("commit").WithPath("/docs/a.txt").WithTrace("t-1", "s-1")

	ctx := WithContext(context.Background(), lc)
	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "commit", got.Operation)
	assert.Equal(t, "/docs/a.txt", got.Path)
	assert.Equal(t, "t-1", got.TraceID)
	assert.Equal(t, "s-1", got.SpanID)
	assert.Equal(t, "10.0.0.5", got.ClientIP)

	t.Run("absent context yields nil", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
	})

	t.Run("with-helpers clone instead of mutating", func(t *testing.T) {
		derived := lc.WithOperation("delete")
		assert.Equal(t, "commit", lc.Operation)
		assert.Equal(t, "delete", derived.Operation)
	})

	t.Run("nil receiver is safe", func(t *testing.T) {
		var nilLC *LogContext
		assert.Nil(t, nilLC.Clone())
		assert.Nil(t, nilLC.WithOperation("x"))
		assert.Zero(t, nilLC.DurationMs())
	})
}

func TestCtxLoggingInjectsRequestFields(t *testing.T) {
	buf := capture(t, "INFO", "json")

	ctx := WithContext(context.Background(), &LogContext{
		TraceID:   "t-1",
		Operation: "upload-init",
		Path:      "/docs/a.txt",
		NodeID:    "node-a",
	})
	InfoCtx(ctx, "placement planned", Replicas(2))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "t-1", entry[KeyTraceID])
	assert.Equal(t, "upload-init", entry[KeyOperation])
	assert.Equal(t, "/docs/a.txt", entry[KeyPath])
	assert.Equal(t, "node-a", entry[KeyNodeID])
	assert.Equal(t, float64(2), entry[KeyReplicas])

	t.Run("plain context logs only the explicit fields", func(t *testing.T) {
		buf.Reset()
		InfoCtx(context.Background(), "placement planned", Replicas(2))
		entry := jsonLines(t, buf)[0]
		assert.NotContains(t, entry, KeyTraceID)
		assert.Equal(t, float64(2), entry[KeyReplicas])
	})
}

func TestDurationHelpers(t *testing.T) {
	start := time.Now().Add(-5 * time.Millisecond)
	assert.GreaterOrEqual(t, Duration(start), 4.0)

	lc := &LogContext{StartTime: start}
	assert.GreaterOrEqual(t, lc.DurationMs(), 4.0)
}
