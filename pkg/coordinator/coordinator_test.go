package coordinator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/internal/bytesize"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/checksum"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/coordinator/store"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// testClock replaces the coordinator's clock so tests drive liveness,
// session expiry, and GC grace deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCoordinator(t *testing.T, mutate func(*config.CoordinatorConfig)) (*Coordinator, *testClock) {
	t.Helper()

	st, err := store.Open(store.Config{Backend: store.BackendMemory, Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.CoordinatorConfig{
		ChunkSize:         bytesize.ByteSize(64),
		ReplicationFactor: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c := New(cfg, st)
	clk := newTestClock()
	c.now = clk.Now
	return c, clk
}

func heartbeatReq(id string, port int, free, total int64, chunkIDs ...string) model.HeartbeatRequest {
	return model.HeartbeatRequest{
		NodeID:     id,
		Host:       "127.0.0.1",
		Port:       port,
		FreeSpace:  free,
		TotalSpace: total,
		ChunkIDs:   chunkIDs,
	}
}

func mustHeartbeat(t *testing.T, c *Coordinator, req model.HeartbeatRequest) {
	t.Helper()
	resp, err := c.Heartbeat(req)
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
}

// commitUpload drives init plus commit for a file of the given size, placing
// every chunk on the workers named in the plan.
func commitUpload(t *testing.T, c *Coordinator, path string, size int64, overwrite bool) model.FileRecord {
	t.Helper()
	ctx := context.Background()

	plan, err := c.UploadInit(ctx, model.UploadInitRequest{Path: path, Size: size, Overwrite: overwrite})
	require.NoError(t, err)

	req := model.CommitRequest{FileID: plan.FileID}
	for _, chunk := range plan.Chunks {
		var nodes []string
		for _, target := range chunk.Targets {
			nodes = append(nodes, nodeIDForURL(t, c, target))
		}
		req.Chunks = append(req.Chunks, model.CommitChunk{
			ChunkID:  chunk.ChunkID,
			Checksum: checksum.Sum([]byte(chunk.ChunkID)),
			Nodes:    nodes,
		})
	}
	resp, err := c.Commit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "committed", resp.Status)

	file, err := c.store.GetFileByID(resp.FileID)
	require.NoError(t, err)
	return file
}

func nodeIDForURL(t *testing.T, c *Coordinator, target string) string {
	t.Helper()
	workers, err := c.store.ListWorkers()
	require.NoError(t, err)
	for _, w := range workers {
		if w.URL() == target {
			return w.ID
		}
	}
	t.Fatalf("no worker advertises %s", target)
	return ""
}

// ============================================================================
// Upload init
// ============================================================================

func TestUploadInitPlansChunks(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	plan, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/docs/a.txt", Size: 100})
	require.NoError(t, err)

	assert.NotEmpty(t, plan.FileID)
	assert.Equal(t, int64(64), plan.ChunkSize)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, int64(64), plan.Chunks[0].Size)
	assert.Equal(t, int64(36), plan.Chunks[1].Size)
	for _, chunk := range plan.Chunks {
		assert.Len(t, chunk.Targets, 2)
	}

	// Provisional until commit: invisible to reads.
	_, err = c.Get("/docs/a.txt")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	files, err := c.List("", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUploadInitEmptyFile(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	plan, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/empty", Size: 0})
	require.NoError(t, err)
	assert.Empty(t, plan.Chunks)

	resp, err := c.Commit(context.Background(), model.CommitRequest{FileID: plan.FileID})
	require.NoError(t, err)
	assert.Equal(t, "committed", resp.Status)

	file, err := c.Get("/empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), file.Size)
}

func TestUploadInitFailsWithoutCapacity(t *testing.T) {
	t.Run("too few active workers", func(t *testing.T) {
		c, _ := newTestCoordinator(t, nil)
		mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))

		_, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/a", Size: 10})
		assert.True(t, errors.Is(err, errdefs.ErrNoCapacity))
	})

	t.Run("no worker has room", func(t *testing.T) {
		c, _ := newTestCoordinator(t, nil)
		mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 10, 1000))
		mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 10, 1000))

		_, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/a", Size: 10})
		assert.True(t, errors.Is(err, errdefs.ErrNoCapacity))
	})

	t.Run("inactive workers do not count", func(t *testing.T) {
		c, clk := newTestCoordinator(t, nil)
		mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
		mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))
		clk.Advance(time.Minute) // past the default dead threshold

		_, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/a", Size: 10})
		assert.True(t, errors.Is(err, errdefs.ErrNoCapacity))
	})
}

func TestUploadInitRejectsInvalidRequests(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	for name, req := range map[string]model.UploadInitRequest{
		"relative path": {Path: "docs/a.txt", Size: 10},
		"empty path":    {Path: "", Size: 10},
		"negative size": {Path: "/a", Size: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.UploadInit(context.Background(), req)
			assert.True(t, errors.Is(err, errdefs.ErrInvalid))
		})
	}
}

func TestUploadInitPathConflict(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))
	commitUpload(t, c, "/docs/a.txt", 10, false)

	_, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/docs/a.txt", Size: 10})
	assert.True(t, errors.Is(err, errdefs.ErrPathConflict))

	_, err = c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/docs/a.txt", Size: 10, Overwrite: true})
	assert.NoError(t, err)
}

// ============================================================================
// Commit
// ============================================================================

func TestCommitPublishesFile(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 100, false)
	assert.True(t, file.Committed)
	require.Len(t, file.Chunks, 2)
	for _, rec := range file.Chunks {
		assert.NotEmpty(t, rec.Checksum)
		require.Len(t, rec.Replicas, 2)
		for _, p := range rec.Replicas {
			assert.Equal(t, model.PlacementCommitted, p.State)
		}
	}

	got, err := c.Get("/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)

	files, err := c.List("/docs", 0, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestCommitRejectsBadReports(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	newPlan := func(path string) model.UploadPlan {
		plan, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: path, Size: 10})
		require.NoError(t, err)
		require.Len(t, plan.Chunks, 1)
		return plan
	}
	sum := checksum.Sum([]byte("x"))

	t.Run("zero reporting workers", func(t *testing.T) {
		plan := newPlan("/zero")
		_, err := c.Commit(context.Background(), model.CommitRequest{
			FileID: plan.FileID,
			Chunks: []model.CommitChunk{{ChunkID: plan.Chunks[0].ChunkID, Checksum: sum, Nodes: []string{}}},
		})
		assert.True(t, errors.Is(err, errdefs.ErrInvalid))
	})

	t.Run("unknown chunk id", func(t *testing.T) {
		plan := newPlan("/unknown-chunk")
		_, err := c.Commit(context.Background(), model.CommitRequest{
			FileID: plan.FileID,
			Chunks: []model.CommitChunk{{
				ChunkID:  "9f3b1f9c-0000-4000-8000-000000000000",
				Checksum: sum,
				Nodes:    []string{"node-a"},
			}},
		})
		assert.True(t, errors.Is(err, errdefs.ErrInvalid))
	})

	t.Run("missing chunk", func(t *testing.T) {
		plan := newPlan("/missing-chunk")
		_, err := c.Commit(context.Background(), model.CommitRequest{FileID: plan.FileID})
		assert.True(t, errors.Is(err, errdefs.ErrInvalid))
	})

	t.Run("only unknown workers", func(t *testing.T) {
		plan := newPlan("/ghost-workers")
		_, err := c.Commit(context.Background(), model.CommitRequest{
			FileID: plan.FileID,
			Chunks: []model.CommitChunk{{ChunkID: plan.Chunks[0].ChunkID, Checksum: sum, Nodes: []string{"node-ghost"}}},
		})
		assert.True(t, errors.Is(err, errdefs.ErrInvalid))
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := c.Commit(context.Background(), model.CommitRequest{
			FileID: "9f3b1f9c-0000-4000-8000-000000000001",
		})
		assert.True(t, errors.Is(err, errdefs.ErrSessionExpired))
	})
}

func TestCommitAfterSessionTimeout(t *testing.T) {
	c, clk := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	plan, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/late", Size: 10})
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	_, err = c.Commit(context.Background(), model.CommitRequest{
		FileID: plan.FileID,
		Chunks: []model.CommitChunk{{
			ChunkID:  plan.Chunks[0].ChunkID,
			Checksum: checksum.Sum([]byte("x")),
			Nodes:    []string{"node-a"},
		}},
	})
	assert.True(t, errors.Is(err, errdefs.ErrSessionExpired))

	// The provisional record and the session are gone.
	_, err = c.store.GetFileByID(plan.FileID)
	assert.Error(t, err)
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.OpenSessions)
}

func TestCommitDetectsPathTakenDuringUpload(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	// Both clients init before either commits.
	first, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/race", Size: 10})
	require.NoError(t, err)
	second, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/race", Size: 10})
	require.NoError(t, err)

	commit := func(plan model.UploadPlan) error {
		_, err := c.Commit(context.Background(), model.CommitRequest{
			FileID: plan.FileID,
			Chunks: []model.CommitChunk{{
				ChunkID:  plan.Chunks[0].ChunkID,
				Checksum: checksum.Sum([]byte("x")),
				Nodes:    []string{"node-a"},
			}},
		})
		return err
	}

	require.NoError(t, commit(first))
	err = commit(second)
	assert.True(t, errors.Is(err, errdefs.ErrPathConflict))
}

func TestOverwriteSoftDeletesSuperseded(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	old := commitUpload(t, c, "/docs/a.txt", 10, false)
	replacement := commitUpload(t, c, "/docs/a.txt", 20, true)

	got, err := c.Get("/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)

	superseded, err := c.store.GetFileByID(old.ID)
	require.NoError(t, err)
	assert.True(t, superseded.IsDeleted)
	require.NotNil(t, superseded.DeletedAt)
}

// ============================================================================
// Delete
// ============================================================================

func TestDeleteIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))
	commitUpload(t, c, "/docs/a.txt", 10, false)

	resp, err := c.Delete("/docs/a.txt", false)
	require.NoError(t, err)
	assert.Equal(t, "deleted", resp.Status)
	assert.Equal(t, "/docs/a.txt", resp.Path)

	_, err = c.Get("/docs/a.txt")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	// Again, and for a path that never existed.
	_, err = c.Delete("/docs/a.txt", false)
	assert.NoError(t, err)
	_, err = c.Delete("/never-was", false)
	assert.NoError(t, err)
}

func TestDeletedPathCanBeReused(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	first := commitUpload(t, c, "/docs/a.txt", 10, false)
	_, err := c.Delete("/docs/a.txt", false)
	require.NoError(t, err)

	second := commitUpload(t, c, "/docs/a.txt", 10, false)
	assert.NotEqual(t, first.ID, second.ID)
}

// ============================================================================
// Heartbeat truth
// ============================================================================

func TestHeartbeatInventoryIsAuthoritative(t *testing.T) {
	c, _ := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.ReplicationFactor = 1
	})
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// Worker reports the chunk: placement stays committed and verified.
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000, chunkID))
	got, err := c.Get("/docs/a.txt")
	require.NoError(t, err)
	require.Len(t, got.Chunks[0].Replicas, 1)

	// Worker stops reporting it: the placement is gone.
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	got, err = c.Get("/docs/a.txt")
	require.NoError(t, err)
	assert.Empty(t, got.Chunks[0].Replicas)

	// It reappears: placement is back without any repair involvement.
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000, chunkID))
	got, err = c.Get("/docs/a.txt")
	require.NoError(t, err)
	require.Len(t, got.Chunks[0].Replicas, 1)
	assert.Equal(t, model.PlacementCommitted, got.Chunks[0].Replicas[0].State)
}

func TestGetExcludesReplicasOnDeadWorkers(t *testing.T) {
	c, clk := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))
	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	clk.Advance(20 * time.Second)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000, chunkID))
	// node-b misses its heartbeats past the dead threshold.
	clk.Advance(20 * time.Second)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000, chunkID))

	got, err := c.Get("/docs/a.txt")
	require.NoError(t, err)
	require.Len(t, got.Chunks[0].Replicas, 1)
	assert.Equal(t, "node-a", got.Chunks[0].Replicas[0].NodeID)
}

// ============================================================================
// Nodes and health
// ============================================================================

func TestNodesAndHealthViews(t *testing.T) {
	c, clk := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 600, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 400, 1000))

	clk.Advance(40 * time.Second)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 600, 1000))

	nodes, err := c.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	states := map[string]model.NodeState{}
	for _, n := range nodes {
		states[n.ID] = n.State
	}
	assert.Equal(t, model.NodeActive, states["node-a"])
	assert.Equal(t, model.NodeInactive, states["node-b"])

	node, err := c.Node("node-a")
	require.NoError(t, err)
	assert.Equal(t, 9001, node.Port)
	_, err = c.Node("node-ghost")
	assert.Error(t, err)

	health, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Details.TotalNodes)
	assert.Equal(t, 1, health.Details.ActiveNodes)
	assert.Equal(t, 2, health.Details.ReplicationFactor)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalNodes)
	assert.Equal(t, 1, stats.ActiveNodes)
	assert.Equal(t, int64(2000), stats.TotalSpace)
	assert.Equal(t, int64(1000), stats.FreeSpace)
}

// ============================================================================
// Repair
// ============================================================================

// replicaServer is a stub worker HTTP endpoint that records replicate and
// delete calls addressed to it.
type replicaServer struct {
	mu          sync.Mutex
	replicates  []string // chunk ids asked to copy out
	deletes     []string // chunk ids asked to drop
	failDeletes bool     // refuse delete calls with a 503

	srv  *httptest.Server
	host string
	port int
}

func newReplicaServer(t *testing.T) *replicaServer {
	t.Helper()
	rs := &replicaServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/chunks/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/chunks/")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/replicate"):
			chunkID := strings.TrimSuffix(rest, "/replicate")
			rs.mu.Lock()
			rs.replicates = append(rs.replicates, chunkID)
			rs.mu.Unlock()
			api.JSON(w, http.StatusOK, model.ReplicateResponse{Status: "replicated", ChunkID: chunkID})
		case r.Method == http.MethodDelete:
			rs.mu.Lock()
			failing := rs.failDeletes
			if !failing {
				rs.deletes = append(rs.deletes, rest)
			}
			rs.mu.Unlock()
			if failing {
				http.Error(w, "store busy", http.StatusServiceUnavailable)
				return
			}
			api.JSON(w, http.StatusOK, map[string]string{"status": "deleted", "chunk_id": rest})
		default:
			http.Error(w, "unexpected call", http.StatusInternalServerError)
		}
	})

	rs.srv = httptest.NewServer(mux)
	t.Cleanup(rs.srv.Close)

	u, err := url.Parse(rs.srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	rs.host = host
	rs.port, err = strconv.Atoi(portStr)
	require.NoError(t, err)
	return rs
}

func (rs *replicaServer) setFailDeletes(v bool) {
	rs.mu.Lock()
	rs.failDeletes = v
	rs.mu.Unlock()
}

func (rs *replicaServer) heartbeat(id string, free, total int64, chunkIDs ...string) model.HeartbeatRequest {
	return model.HeartbeatRequest{
		NodeID:     id,
		Host:       rs.host,
		Port:       rs.port,
		FreeSpace:  free,
		TotalSpace: total,
		ChunkIDs:   chunkIDs,
	}
}

func TestRepairCycleRestoresReplication(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	source := newReplicaServer(t)
	dest := newReplicaServer(t)
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000))
	mustHeartbeat(t, c, dest.heartbeat("node-b", 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// Only node-a still reports the chunk.
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000, chunkID))
	mustHeartbeat(t, c, dest.heartbeat("node-b", 1000, 1000))

	c.RunRepairCycle(context.Background())

	source.mu.Lock()
	replicates := append([]string{}, source.replicates...)
	source.mu.Unlock()
	assert.Contains(t, replicates, chunkID)

	// The copy is pending until the destination heartbeat confirms it.
	stored, err := c.store.GetFileByID(file.ID)
	require.NoError(t, err)
	require.True(t, stored.Chunks[0].HasReplicaOn("node-b"))

	mustHeartbeat(t, c, dest.heartbeat("node-b", 1000, 1000, chunkID))
	got, err := c.Get("/docs/a.txt")
	require.NoError(t, err)
	assert.Len(t, got.Chunks[0].Replicas, 2)
}

func TestRepairSkipsWhenNoDestinationEligible(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	source := newReplicaServer(t)
	other := newReplicaServer(t)
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000))
	mustHeartbeat(t, c, other.heartbeat("node-b", 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// node-b is alive but has no room for new placements.
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000, chunkID))
	mustHeartbeat(t, c, other.heartbeat("node-b", 5, 1000))

	c.RunRepairCycle(context.Background())

	source.mu.Lock()
	replicates := len(source.replicates)
	source.mu.Unlock()
	assert.Zero(t, replicates)
}

func TestRepairCannotRunWithoutLiveSource(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	source := newReplicaServer(t)
	dest := newReplicaServer(t)
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000))
	mustHeartbeat(t, c, dest.heartbeat("node-b", 1000, 1000))

	commitUpload(t, c, "/docs/a.txt", 10, false)

	// Nobody reports the chunk anymore.
	mustHeartbeat(t, c, source.heartbeat("node-a", 1000, 1000))
	mustHeartbeat(t, c, dest.heartbeat("node-b", 1000, 1000))

	c.RunRepairCycle(context.Background())

	source.mu.Lock()
	replicates := len(source.replicates)
	source.mu.Unlock()
	assert.Zero(t, replicates)
}

// ============================================================================
// Rebalance
// ============================================================================

func TestRebalanceDropsOverReplicatedFromHottestHolder(t *testing.T) {
	c, _ := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.ReplicationFactor = 1
		cfg.Rebalance = true
	})
	hot := newReplicaServer(t)
	cold := newReplicaServer(t)
	mustHeartbeat(t, c, hot.heartbeat("node-a", 200, 1000))
	mustHeartbeat(t, c, cold.heartbeat("node-b", 800, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// Both workers report the chunk: one replica above the factor.
	mustHeartbeat(t, c, hot.heartbeat("node-a", 200, 1000, chunkID))
	mustHeartbeat(t, c, cold.heartbeat("node-b", 800, 1000, chunkID))

	c.runRebalanceCycle(context.Background())

	hot.mu.Lock()
	hotDeletes := append([]string{}, hot.deletes...)
	hot.mu.Unlock()
	assert.Contains(t, hotDeletes, chunkID, "extra replica sheds from the most loaded holder")

	cold.mu.Lock()
	coldDeletes := len(cold.deletes)
	cold.mu.Unlock()
	assert.Zero(t, coldDeletes)
}

func TestRebalanceMovesChunkOffHotWorker(t *testing.T) {
	c, _ := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.ReplicationFactor = 1
		cfg.Rebalance = true
	})
	hot := newReplicaServer(t)
	cold := newReplicaServer(t)
	mustHeartbeat(t, c, hot.heartbeat("node-a", 200, 1000))
	mustHeartbeat(t, c, cold.heartbeat("node-b", 900, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// The chunk lives only on the loaded worker.
	mustHeartbeat(t, c, hot.heartbeat("node-a", 200, 1000, chunkID))
	mustHeartbeat(t, c, cold.heartbeat("node-b", 900, 1000))

	c.runRebalanceCycle(context.Background())

	hot.mu.Lock()
	replicates := append([]string{}, hot.replicates...)
	hot.mu.Unlock()
	assert.Contains(t, replicates, chunkID, "copy goes out from the hot holder")

	stored, err := c.store.GetFileByID(file.ID)
	require.NoError(t, err)
	require.True(t, stored.Chunks[0].HasReplicaOn("node-b"))

	// The destination heartbeat commits the copy; the next cycle sheds the
	// replica on the hot worker.
	mustHeartbeat(t, c, cold.heartbeat("node-b", 900, 1000, chunkID))
	c.runRebalanceCycle(context.Background())

	hot.mu.Lock()
	hotDeletes := append([]string{}, hot.deletes...)
	hot.mu.Unlock()
	assert.Contains(t, hotDeletes, chunkID)
}

func TestRebalanceNeedsBelowAverageDestination(t *testing.T) {
	c, _ := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.Rebalance = true
	})
	hot := newReplicaServer(t)
	warm := newReplicaServer(t)
	light := newReplicaServer(t)
	mustHeartbeat(t, c, hot.heartbeat("node-a", 100, 1000))
	mustHeartbeat(t, c, warm.heartbeat("node-b", 200, 1000))
	mustHeartbeat(t, c, light.heartbeat("node-c", 900, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	// Replication is satisfied on node-a and node-c. The only worker not
	// holding the chunk sits above average utilization, so nothing moves.
	mustHeartbeat(t, c, hot.heartbeat("node-a", 100, 1000, chunkID))
	mustHeartbeat(t, c, warm.heartbeat("node-b", 200, 1000))
	mustHeartbeat(t, c, light.heartbeat("node-c", 900, 1000, chunkID))

	c.runRebalanceCycle(context.Background())

	for name, rs := range map[string]*replicaServer{"hot": hot, "warm": warm, "light": light} {
		rs.mu.Lock()
		replicates := len(rs.replicates)
		deletes := len(rs.deletes)
		rs.mu.Unlock()
		assert.Zero(t, replicates, name)
		assert.Zero(t, deletes, name)
	}

	stored, err := c.store.GetFileByID(file.ID)
	require.NoError(t, err)
	assert.False(t, stored.Chunks[0].HasReplicaOn("node-b"))
}

// ============================================================================
// Garbage collection
// ============================================================================

func TestGCRemovesExpiredSoftDeletedFiles(t *testing.T) {
	c, clk := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.ReplicationFactor = 1
	})
	holder := newReplicaServer(t)
	mustHeartbeat(t, c, holder.heartbeat("node-a", 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	_, err := c.Delete("/docs/a.txt", false)
	require.NoError(t, err)

	// Still within the grace period: nothing happens.
	clk.Advance(time.Hour)
	c.RunGCCycle(context.Background())
	_, err = c.store.GetFileByID(file.ID)
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	c.RunGCCycle(context.Background())

	_, err = c.store.GetFileByID(file.ID)
	assert.Error(t, err)
	holder.mu.Lock()
	deletes := append([]string{}, holder.deletes...)
	holder.mu.Unlock()
	assert.Contains(t, deletes, chunkID)
}

func TestGCKeepsRecordsWhileLiveWorkerRefusesDelete(t *testing.T) {
	c, clk := newTestCoordinator(t, func(cfg *config.CoordinatorConfig) {
		cfg.ReplicationFactor = 1
	})
	holder := newReplicaServer(t)
	mustHeartbeat(t, c, holder.heartbeat("node-a", 1000, 1000))

	file := commitUpload(t, c, "/docs/a.txt", 10, false)
	chunkID := file.Chunks[0].ID

	_, err := c.Delete("/docs/a.txt", false)
	require.NoError(t, err)

	// Past the grace period with the holder still alive but refusing to
	// drop the bytes: the record must survive so the chunk is not orphaned.
	clk.Advance(8 * 24 * time.Hour)
	mustHeartbeat(t, c, holder.heartbeat("node-a", 1000, 1000, chunkID))
	holder.setFailDeletes(true)

	c.RunGCCycle(context.Background())
	_, err = c.store.GetFileByID(file.ID)
	require.NoError(t, err)

	// Once the worker accepts the delete, the next pass removes the record.
	holder.setFailDeletes(false)
	c.RunGCCycle(context.Background())

	_, err = c.store.GetFileByID(file.ID)
	assert.Error(t, err)
	holder.mu.Lock()
	deletes := append([]string{}, holder.deletes...)
	holder.mu.Unlock()
	assert.Contains(t, deletes, chunkID)
}

// ============================================================================
// Leases
// ============================================================================

func TestLeases(t *testing.T) {
	c, clk := newTestCoordinator(t, nil)

	lease, err := c.AcquireLease(model.LeaseAcquireRequest{Path: "/docs/a.txt", ClientID: "client-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, lease.ID)

	t.Run("other client is refused while live", func(t *testing.T) {
		_, err := c.AcquireLease(model.LeaseAcquireRequest{Path: "/docs/a.txt", ClientID: "client-2"})
		assert.True(t, errors.Is(err, errdefs.ErrLeaseHeld))
	})

	t.Run("same client renews", func(t *testing.T) {
		renewed, err := c.AcquireLease(model.LeaseAcquireRequest{Path: "/docs/a.txt", ClientID: "client-1"})
		require.NoError(t, err)
		assert.NotEqual(t, lease.ID, renewed.ID)
		lease = renewed
	})

	t.Run("expired lease is free for the taking", func(t *testing.T) {
		clk.Advance(2 * time.Minute)
		taken, err := c.AcquireLease(model.LeaseAcquireRequest{Path: "/docs/a.txt", ClientID: "client-2"})
		require.NoError(t, err)
		lease = taken
	})

	t.Run("release is idempotent", func(t *testing.T) {
		require.NoError(t, c.ReleaseLease(model.LeaseReleaseRequest{LeaseID: lease.ID}))
		require.NoError(t, c.ReleaseLease(model.LeaseReleaseRequest{LeaseID: lease.ID}))
	})

	leases, err := c.Leases()
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestSweepSessionsAbandonsExpired(t *testing.T) {
	c, clk := newTestCoordinator(t, nil)
	mustHeartbeat(t, c, heartbeatReq("node-a", 9001, 1000, 1000))
	mustHeartbeat(t, c, heartbeatReq("node-b", 9002, 1000, 1000))

	_, err := c.UploadInit(context.Background(), model.UploadInitRequest{Path: "/stale", Size: 10})
	require.NoError(t, err)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OpenSessions)

	clk.Advance(2 * time.Hour)
	c.SweepSessions()

	stats, err = c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.OpenSessions)
}
