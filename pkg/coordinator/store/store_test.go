package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// The full behavior suite runs against every backend.
func backends(t *testing.T) map[string]func(t *testing.T) MetadataStore {
	return map[string]func(t *testing.T) MetadataStore{
		"memory": func(t *testing.T) MetadataStore {
			s, err := OpenMemory("", 0)
			require.NoError(t, err)
			return s
		},
		"memory-journaled": func(t *testing.T) MetadataStore {
			s, err := OpenMemory(t.TempDir(), 100)
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) MetadataStore {
			s, err := OpenBadger(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func testFile(id, path string, chunkIDs ...string) model.FileRecord {
	f := model.FileRecord{
		ID:         id,
		Path:       path,
		Size:       int64(len(chunkIDs)) * 1024,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		ModifiedAt: time.Now().UTC().Truncate(time.Second),
	}
	for i, cid := range chunkIDs {
		f.Chunks = append(f.Chunks, model.ChunkRecord{
			ID:       cid,
			SeqIndex: i,
			Size:     1024,
		})
	}
	return f
}

func TestStoreFiles(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("ProvisionalFilesAreInvisible", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.CreateFile(testFile("id1", "/a", "c1")))

				_, err := s.GetFileByPath("/a")
				assert.ErrorIs(t, err, errdefs.ErrNotFound)

				got, err := s.GetFileByID("id1")
				require.NoError(t, err)
				assert.Equal(t, "/a", got.Path)
				assert.False(t, got.Committed)

				files, err := s.ListFiles("", 0, 0)
				require.NoError(t, err)
				assert.Empty(t, files)
			})

			t.Run("PublishMakesFileVisible", func(t *testing.T) {
				s := open(t)
				f := testFile("id1", "/a", "c1")
				require.NoError(t, s.CreateFile(f))
				require.NoError(t, s.PublishFile(f, "", time.Now()))

				got, err := s.GetFileByPath("/a")
				require.NoError(t, err)
				assert.True(t, got.Committed)
				assert.Equal(t, "id1", got.ID)
			})

			t.Run("PublishWithSupersedeSoftDeletesOld", func(t *testing.T) {
				s := open(t)
				old := testFile("old", "/a", "c1")
				require.NoError(t, s.CreateFile(old))
				require.NoError(t, s.PublishFile(old, "", time.Now()))

				repl := testFile("new", "/a", "c2")
				require.NoError(t, s.CreateFile(repl))
				require.NoError(t, s.PublishFile(repl, "old", time.Now()))

				got, err := s.GetFileByPath("/a")
				require.NoError(t, err)
				assert.Equal(t, "new", got.ID)

				oldRec, err := s.GetFileByID("old")
				require.NoError(t, err)
				assert.True(t, oldRec.IsDeleted)
				require.NotNil(t, oldRec.DeletedAt)

				// Exactly one live record at the path.
				files, err := s.ListFiles("/a", 0, 0)
				require.NoError(t, err)
				require.Len(t, files, 1)
				assert.Equal(t, "new", files[0].ID)
			})

			t.Run("ListFilesPrefixAndPagination", func(t *testing.T) {
				s := open(t)
				for _, p := range []struct{ id, path string }{
					{"i1", "/docs/a"}, {"i2", "/docs/b"}, {"i3", "/docs/c"}, {"i4", "/media/x"},
				} {
					f := testFile(p.id, p.path)
					require.NoError(t, s.CreateFile(f))
					require.NoError(t, s.PublishFile(f, "", time.Now()))
				}

				docs, err := s.ListFiles("/docs/", 0, 0)
				require.NoError(t, err)
				require.Len(t, docs, 3)
				assert.Equal(t, "/docs/a", docs[0].Path)

				page, err := s.ListFiles("/docs/", 1, 1)
				require.NoError(t, err)
				require.Len(t, page, 1)
				assert.Equal(t, "/docs/b", page[0].Path)

				empty, err := s.ListFiles("/docs/", 10, 5)
				require.NoError(t, err)
				assert.Empty(t, empty)
			})

			t.Run("RemoveFileDropsChunkIndex", func(t *testing.T) {
				s := open(t)
				f := testFile("id1", "/a", "c1")
				require.NoError(t, s.CreateFile(f))
				require.NoError(t, s.PublishFile(f, "", time.Now()))
				require.NoError(t, s.RemoveFile("id1"))

				_, err := s.GetFileByID("id1")
				assert.ErrorIs(t, err, errdefs.ErrNotFound)
				_, err = s.GetFileByPath("/a")
				assert.ErrorIs(t, err, errdefs.ErrNotFound)

				// A heartbeat reporting the removed chunk must not resurrect it.
				require.NoError(t, s.SyncInventory("w1", "http://w1:9000", []string{"c1"}, time.Now()))
				all, err := s.ListAllFiles()
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("UpdateMissingFileFails", func(t *testing.T) {
				s := open(t)
				err := s.UpdateFile(testFile("ghost", "/g"))
				assert.ErrorIs(t, err, errdefs.ErrNotFound)
			})
		})
	}
}

func TestStoreSessionsWorkersLeases(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("SessionLifecycle", func(t *testing.T) {
				s := open(t)
				sess := model.UploadSession{
					FileID:    "f1",
					Path:      "/a",
					Size:      100,
					ChunkSize: 64,
					CreatedAt: time.Now().UTC().Truncate(time.Second),
					Chunks: []model.SessionChunk{{
						ChunkID: "c1",
						Size:    100,
						Targets: []model.PlacementTarget{{NodeID: "w1", URL: "http://w1:9000"}},
					}},
				}
				require.NoError(t, s.PutSession(sess))

				got, err := s.GetSession("f1")
				require.NoError(t, err)
				assert.Equal(t, "/a", got.Path)
				require.Len(t, got.Chunks, 1)
				assert.Equal(t, "w1", got.Chunks[0].Targets[0].NodeID)

				require.NoError(t, s.DeleteSession("f1"))
				_, err = s.GetSession("f1")
				assert.ErrorIs(t, err, errdefs.ErrNotFound)

				// Idempotent delete.
				assert.NoError(t, s.DeleteSession("f1"))
			})

			t.Run("WorkerUpsert", func(t *testing.T) {
				s := open(t)
				w := model.WorkerRecord{
					ID: "node-a-9001", Host: "a", Port: 9001,
					FreeSpace: 100, TotalSpace: 200, State: model.NodeActive,
					LastHeartbeat: time.Now().UTC().Truncate(time.Second),
				}
				require.NoError(t, s.PutWorker(w))

				w.FreeSpace = 50
				require.NoError(t, s.PutWorker(w))

				got, err := s.GetWorker("node-a-9001")
				require.NoError(t, err)
				assert.Equal(t, int64(50), got.FreeSpace)

				list, err := s.ListWorkers()
				require.NoError(t, err)
				assert.Len(t, list, 1)
			})

			t.Run("LeaseByPath", func(t *testing.T) {
				s := open(t)
				l := model.Lease{ID: "l1", Path: "/a", ClientID: "c1",
					ExpiresAt: time.Now().Add(time.Minute).UTC().Truncate(time.Second)}
				require.NoError(t, s.PutLease(l))

				got, err := s.GetLeaseByPath("/a")
				require.NoError(t, err)
				assert.Equal(t, "l1", got.ID)

				require.NoError(t, s.DeleteLease("l1"))
				_, err = s.GetLeaseByPath("/a")
				assert.ErrorIs(t, err, errdefs.ErrNotFound)

				assert.NoError(t, s.DeleteLease("l1")) // idempotent
			})
		})
	}
}

func TestSyncInventory(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("HeartbeatTruth", func(t *testing.T) {
				s := open(t)
				// Preload worker w1 with placements for chunks x, y, z.
				f := testFile("f1", "/a", "x", "y", "z")
				for i := range f.Chunks {
					f.Chunks[i].Replicas = []model.ReplicaPlacement{{
						NodeID: "w1", URL: "http://w1:9000", State: model.PlacementCommitted,
					}}
				}
				require.NoError(t, s.CreateFile(f))
				require.NoError(t, s.PublishFile(f, "", time.Now()))

				// w1 reports only x and y: z was deleted locally.
				require.NoError(t, s.SyncInventory("w1", "http://w1:9000", []string{"x", "y"}, time.Now()))

				got, err := s.GetFileByPath("/a")
				require.NoError(t, err)
				assert.True(t, got.Chunks[0].HasReplicaOn("w1"))
				assert.True(t, got.Chunks[1].HasReplicaOn("w1"))
				assert.False(t, got.Chunks[2].HasReplicaOn("w1"))
			})

			t.Run("ReportedChunkGainsPlacement", func(t *testing.T) {
				s := open(t)
				f := testFile("f1", "/a", "x")
				require.NoError(t, s.CreateFile(f))
				require.NoError(t, s.PublishFile(f, "", time.Now()))

				at := time.Now().UTC().Truncate(time.Second)
				require.NoError(t, s.SyncInventory("w2", "http://w2:9000", []string{"x"}, at))

				got, err := s.GetFileByPath("/a")
				require.NoError(t, err)
				require.Len(t, got.Chunks[0].Replicas, 1)
				p := got.Chunks[0].Replicas[0]
				assert.Equal(t, "w2", p.NodeID)
				assert.Equal(t, model.PlacementCommitted, p.State)
				assert.True(t, p.Verified)
			})

			t.Run("PendingPromotedOnReport", func(t *testing.T) {
				s := open(t)
				f := testFile("f1", "/a", "x")
				f.Chunks[0].Replicas = []model.ReplicaPlacement{{
					NodeID: "w3", URL: "http://w3:9000", State: model.PlacementPending,
				}}
				require.NoError(t, s.CreateFile(f))
				require.NoError(t, s.PublishFile(f, "", time.Now()))

				require.NoError(t, s.SyncInventory("w3", "http://w3:9000", []string{"x"}, time.Now()))

				got, err := s.GetFileByPath("/a")
				require.NoError(t, err)
				require.Len(t, got.Chunks[0].Replicas, 1)
				assert.Equal(t, model.PlacementCommitted, got.Chunks[0].Replicas[0].State)
			})

			t.Run("UnknownChunksIgnored", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.SyncInventory("w1", "http://w1:9000", []string{"ghost"}, time.Now()))
				all, err := s.ListAllFiles()
				require.NoError(t, err)
				assert.Empty(t, all)
			})
		})
	}
}
