package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/checksum"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// fakeWorker is a minimal chunk endpoint: PUT stores, GET serves, with an
// optional failure budget and byte corruption for failover tests.
type fakeWorker struct {
	nodeID string

	mu       sync.Mutex
	chunks   map[string][]byte
	putFails int
	corrupt  bool
	puts     int

	srv *httptest.Server
}

func newFakeWorker(t *testing.T, nodeID string) *fakeWorker {
	t.Helper()
	fw := &fakeWorker{nodeID: nodeID, chunks: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("/chunks/", func(w http.ResponseWriter, r *http.Request) {
		chunkID := strings.TrimPrefix(r.URL.Path, "/chunks/")
		switch r.Method {
		case http.MethodPut:
			fw.mu.Lock()
			fw.puts++
			if fw.putFails > 0 {
				fw.putFails--
				fw.mu.Unlock()
				http.Error(w, "try later", http.StatusServiceUnavailable)
				return
			}
			fw.mu.Unlock()

			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			fw.mu.Lock()
			fw.chunks[chunkID] = data
			fw.mu.Unlock()

			api.JSON(w, http.StatusOK, model.PutChunkResponse{
				Status:   "stored",
				ChunkID:  chunkID,
				Size:     int64(len(data)),
				Checksum: checksum.Sum(data),
				Nodes:    []string{fw.nodeID},
			})
		case http.MethodGet:
			fw.mu.Lock()
			data, ok := fw.chunks[chunkID]
			corrupt := fw.corrupt
			fw.mu.Unlock()
			if !ok {
				api.Error(w, errdefs.ErrNotFound)
				return
			}
			if corrupt {
				data = append([]byte{}, data...)
				data[0] ^= 0xff
			}
			w.Header().Set("X-Checksum", checksum.Sum(data))
			w.Write(data)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	fw.srv = httptest.NewServer(mux)
	t.Cleanup(fw.srv.Close)
	return fw
}

func (fw *fakeWorker) put(chunkID string, data []byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.chunks[chunkID] = append([]byte{}, data...)
}

// fakeCoordinator serves canned upload plans and file records and captures
// the commit request.
type fakeCoordinator struct {
	plan model.UploadPlan
	file model.FileRecord

	mu     sync.Mutex
	commit *model.CommitRequest

	srv *httptest.Server
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	fc := &fakeCoordinator{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/files/upload-init", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, fc.plan)
	})
	mux.HandleFunc("/api/v1/files/commit", func(w http.ResponseWriter, r *http.Request) {
		var req model.CommitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fc.mu.Lock()
		fc.commit = &req
		fc.mu.Unlock()
		api.JSON(w, http.StatusOK, model.CommitResponse{Status: "committed", FileID: req.FileID})
	})
	mux.HandleFunc("/api/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, fc.file)
	})

	fc.srv = httptest.NewServer(mux)
	t.Cleanup(fc.srv.Close)
	return fc
}

func patternData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestUploadSplitsHashesAndCommits(t *testing.T) {
	w1 := newFakeWorker(t, "node-a-1")
	w2 := newFakeWorker(t, "node-b-2")

	data := patternData(100)
	fc := newFakeCoordinator(t)
	fc.plan = model.UploadPlan{
		FileID:    "11111111-2222-4333-8444-555555555555",
		ChunkSize: 64,
		Chunks: []model.ChunkPlan{
			{ChunkID: "c1", Size: 64, Targets: []string{w1.srv.URL}},
			{ChunkID: "c2", Size: 36, Targets: []string{w2.srv.URL}},
		},
	}

	c := New(fc.srv.URL)
	resp, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), "/docs/a.txt", UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "committed", resp.Status)

	assert.Equal(t, data[:64], w1.chunks["c1"])
	assert.Equal(t, data[64:], w2.chunks["c2"])

	require.NotNil(t, fc.commit)
	require.Len(t, fc.commit.Chunks, 2)
	assert.Equal(t, checksum.Sum(data[:64]), fc.commit.Chunks[0].Checksum)
	assert.Equal(t, checksum.Sum(data[64:]), fc.commit.Chunks[1].Checksum)
	assert.Equal(t, []string{"node-a-1"}, fc.commit.Chunks[0].Nodes)
	assert.Equal(t, []string{"node-b-2"}, fc.commit.Chunks[1].Nodes)
}

func TestUploadRetriesTransientWorkerFailure(t *testing.T) {
	w1 := newFakeWorker(t, "node-a-1")
	w1.putFails = 1

	data := patternData(32)
	fc := newFakeCoordinator(t)
	fc.plan = model.UploadPlan{
		FileID:    "11111111-2222-4333-8444-555555555555",
		ChunkSize: 64,
		Chunks: []model.ChunkPlan{
			{ChunkID: "c1", Size: 32, Targets: []string{w1.srv.URL}},
		},
	}

	opts := DefaultOptions()
	opts.Retry.BaseDelay = time.Millisecond
	c := NewWithOptions(fc.srv.URL, opts)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), 32, "/a", UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, w1.puts)
	assert.Equal(t, data, w1.chunks["c1"])
}

func TestUploadPathConflictSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.Error(w, errdefs.ErrPathConflict)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Upload(context.Background(), bytes.NewReader(nil), 0, "/a", UploadOptions{})
	assert.True(t, errors.Is(err, errdefs.ErrPathConflict))
}

// memFile is an in-memory io.WriterAt download target.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if need := int(off) + len(p); need > len(m.data) {
		m.data = append(m.data, make([]byte, need-len(m.data))...)
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func downloadFixture(t *testing.T, data []byte) (*fakeCoordinator, *fakeWorker, *fakeWorker) {
	t.Helper()
	w1 := newFakeWorker(t, "node-a-1")
	w2 := newFakeWorker(t, "node-b-2")
	w1.put("c1", data[:64])
	w2.put("c1", data[:64])
	w1.put("c2", data[64:])
	w2.put("c2", data[64:])

	replicas := func() []model.ReplicaPlacement {
		return []model.ReplicaPlacement{
			{NodeID: "node-a-1", URL: w1.srv.URL, State: model.PlacementCommitted},
			{NodeID: "node-b-2", URL: w2.srv.URL, State: model.PlacementCommitted},
		}
	}

	fc := newFakeCoordinator(t)
	fc.file = model.FileRecord{
		ID:        "11111111-2222-4333-8444-555555555555",
		Path:      "/docs/a.txt",
		Size:      int64(len(data)),
		Committed: true,
		Chunks: []model.ChunkRecord{
			{ID: "c1", SeqIndex: 0, Size: 64, Checksum: checksum.Sum(data[:64]), Replicas: replicas()},
			{ID: "c2", SeqIndex: 1, Size: int64(len(data)) - 64, Checksum: checksum.Sum(data[64:]), Replicas: replicas()},
		},
	}
	return fc, w1, w2
}

func TestDownloadAssemblesAndVerifies(t *testing.T) {
	data := patternData(100)
	fc, _, _ := downloadFixture(t, data)

	c := New(fc.srv.URL)
	var dst memFile
	file, err := c.Download(context.Background(), "/docs/a.txt", &dst)
	require.NoError(t, err)
	assert.Equal(t, int64(100), file.Size)
	assert.Equal(t, data, dst.data)
}

func TestDownloadFailsOverOnCorruptReplica(t *testing.T) {
	data := patternData(100)
	fc, w1, _ := downloadFixture(t, data)
	w1.corrupt = true

	c := New(fc.srv.URL)
	var dst memFile
	_, err := c.Download(context.Background(), "/docs/a.txt", &dst)
	require.NoError(t, err)
	assert.Equal(t, data, dst.data)
}

func TestDownloadFailsWhenAllReplicasCorrupt(t *testing.T) {
	data := patternData(100)
	fc, w1, w2 := downloadFixture(t, data)
	w1.corrupt = true
	w2.corrupt = true

	c := New(fc.srv.URL)
	var dst memFile
	_, err := c.Download(context.Background(), "/docs/a.txt", &dst)
	assert.True(t, errors.Is(err, errdefs.ErrCorrupted))
}

func TestDownloadEmptyFile(t *testing.T) {
	fc := newFakeCoordinator(t)
	fc.file = model.FileRecord{
		ID:        "11111111-2222-4333-8444-555555555555",
		Path:      "/empty",
		Size:      0,
		Committed: true,
	}

	c := New(fc.srv.URL)
	var dst memFile
	file, err := c.Download(context.Background(), "/empty", &dst)
	require.NoError(t, err)
	assert.Equal(t, int64(0), file.Size)
	assert.Empty(t, dst.data)
}
