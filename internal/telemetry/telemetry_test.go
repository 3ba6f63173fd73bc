package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "driftfs", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	tracer = nil
	enabled = false

	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan works through the no-op tracer.
	newCtx, span := StartSpan(ctx, SpanUploadInit)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestSpanHelpersDoNotPanicWithoutActiveSpan(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		AddEvent(ctx, "chunk.stored")
	})
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("replica unreachable"))
	})
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
	require.NotPanics(t, func() {
		SetAttributes(ctx, ClientIP("192.168.1.1"))
	})
}

func TestTraceAndSpanIDsEmptyWithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", TraceID(ctx))
	assert.Equal(t, "", SpanID(ctx))
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Path", func(t *testing.T) {
		attr := Path("/docs/a.txt")
		assert.Equal(t, AttrPath, string(attr.Key))
		assert.Equal(t, "/docs/a.txt", attr.Value.AsString())
	})

	t.Run("FileID", func(t *testing.T) {
		attr := FileID("abc-123")
		assert.Equal(t, AttrFileID, string(attr.Key))
		assert.Equal(t, "abc-123", attr.Value.AsString())
	})

	t.Run("Size", func(t *testing.T) {
		attr := Size(1048576)
		assert.Equal(t, AttrSize, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("ChunkID", func(t *testing.T) {
		attr := ChunkID("chunk-1")
		assert.Equal(t, AttrChunkID, string(attr.Key))
		assert.Equal(t, "chunk-1", attr.Value.AsString())
	})

	t.Run("Replicas", func(t *testing.T) {
		attr := Replicas(3)
		assert.Equal(t, AttrReplicas, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("NodeID", func(t *testing.T) {
		attr := NodeID("node-a-9001")
		assert.Equal(t, AttrNodeID, string(attr.Key))
		assert.Equal(t, "node-a-9001", attr.Value.AsString())
	})

	t.Run("FreeSpace", func(t *testing.T) {
		attr := FreeSpace(4096)
		assert.Equal(t, AttrFreeSpace, string(attr.Key))
		assert.Equal(t, int64(4096), attr.Value.AsInt64())
	})
}

func TestStartFileSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartFileSpan(ctx, SpanUploadInit, "/docs/a.txt")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartFileSpan(ctx, SpanDeleteFile, "/docs/a.txt", Size(1024))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartChunkSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartChunkSpan(ctx, SpanChunkPut, "chunk-1", ChunkSize(64))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
