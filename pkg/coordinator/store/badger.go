package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// Key prefixes. Values are JSON-encoded records; index keys store the id of
// the record they point at.
const (
	kFile      = "f:"  // file id -> FileRecord
	kPath      = "p:"  // live committed path -> file id
	kChunk     = "c:"  // chunk id -> file id
	kSession   = "s:"  // file id -> UploadSession
	kWorker    = "w:"  // node id -> WorkerRecord
	kLease     = "l:"  // lease id -> Lease
	kLeasePath = "lp:" // path -> lease id
)

// BadgerStore is the embedded-KV MetadataStore. Durability is delegated to
// badger's value log (SyncWrites), so no separate journal is needed.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the badger database at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Encoding helpers
// ============================================================================

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	var out string
	err = item.Value(func(val []byte) error {
		out = string(val)
		return nil
	})
	return out, err
}

// ============================================================================
// Files
// ============================================================================

// putFileTxn writes a file record plus its derived index entries. prev, when
// non-nil, is the record being replaced; its stale index entries are removed.
func putFileTxn(txn *badger.Txn, f *model.FileRecord, prev *model.FileRecord) error {
	if prev != nil {
		if prev.Committed && !prev.IsDeleted {
			if err := txn.Delete([]byte(kPath + prev.Path)); err != nil {
				return err
			}
		}
		for _, c := range prev.Chunks {
			if err := txn.Delete([]byte(kChunk + c.ID)); err != nil {
				return err
			}
		}
	}
	if err := setJSON(txn, kFile+f.ID, f); err != nil {
		return err
	}
	if f.Committed && !f.IsDeleted {
		if err := txn.Set([]byte(kPath+f.Path), []byte(f.ID)); err != nil {
			return err
		}
	}
	for _, c := range f.Chunks {
		if err := txn.Set([]byte(kChunk+c.ID), []byte(f.ID)); err != nil {
			return err
		}
	}
	return nil
}

func getFileTxn(txn *badger.Txn, id string) (*model.FileRecord, error) {
	var f model.FileRecord
	if err := getJSON(txn, kFile+id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *BadgerStore) CreateFile(f model.FileRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(kFile + f.ID)); err == nil {
			return fmt.Errorf("file %s already exists", f.ID)
		}
		return putFileTxn(txn, &f, nil)
	})
}

func (s *BadgerStore) UpdateFile(f model.FileRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := getFileTxn(txn, f.ID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("file %s: %w", f.ID, errdefs.ErrNotFound)
			}
			return err
		}
		return putFileTxn(txn, &f, prev)
	})
}

func (s *BadgerStore) PublishFile(f model.FileRecord, supersededID string, now time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if supersededID != "" {
			old, err := getFileTxn(txn, supersededID)
			if err == nil && !old.IsDeleted {
				soft := *old
				soft.IsDeleted = true
				t := now
				soft.DeletedAt = &t
				if err := putFileTxn(txn, &soft, old); err != nil {
					return err
				}
			}
		}
		prev, err := getFileTxn(txn, f.ID)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		published := f
		published.Committed = true
		return putFileTxn(txn, &published, prev)
	})
}

func (s *BadgerStore) GetFileByPath(path string) (model.FileRecord, error) {
	var out model.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, kPath+path)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("file %s: %w", path, errdefs.ErrNotFound)
			}
			return err
		}
		return getJSON(txn, kFile+id, &out)
	})
	return out, err
}

func (s *BadgerStore) GetFileByID(id string) (model.FileRecord, error) {
	var out model.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, kFile+id, &out); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("file %s: %w", id, errdefs.ErrNotFound)
			}
			return err
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ListFiles(prefix string, limit, offset int) ([]model.FileRecord, error) {
	var out []model.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kPath + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.Valid(); it.Next() {
			var id string
			err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		// Path-index iteration is already path ordered.
		for _, id := range ids {
			var f model.FileRecord
			if err := getJSON(txn, kFile+id, &f); err != nil {
				return err
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) ListAllFiles() ([]model.FileRecord, error) {
	var out []model.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kFile)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var f model.FileRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *BadgerStore) RemoveFile(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		f, err := getFileTxn(txn, id)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		if f.Committed && !f.IsDeleted {
			if err := txn.Delete([]byte(kPath + f.Path)); err != nil {
				return err
			}
		}
		for _, c := range f.Chunks {
			if err := txn.Delete([]byte(kChunk + c.ID)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(kFile + id))
	})
}

// ============================================================================
// Sessions
// ============================================================================

func (s *BadgerStore) PutSession(sess model.UploadSession) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, kSession+sess.FileID, &sess)
	})
}

func (s *BadgerStore) GetSession(fileID string) (model.UploadSession, error) {
	var out model.UploadSession
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, kSession+fileID, &out); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("session %s: %w", fileID, errdefs.ErrNotFound)
			}
			return err
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) DeleteSession(fileID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(kSession + fileID))
	})
}

func (s *BadgerStore) ListSessions() ([]model.UploadSession, error) {
	var out []model.UploadSession
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kSession)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var sess model.UploadSession
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Workers
// ============================================================================

func (s *BadgerStore) PutWorker(w model.WorkerRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, kWorker+w.ID, &w)
	})
}

func (s *BadgerStore) GetWorker(id string) (model.WorkerRecord, error) {
	var out model.WorkerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, kWorker+id, &out); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("node %s: %w", id, errdefs.ErrNotFound)
			}
			return err
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ListWorkers() ([]model.WorkerRecord, error) {
	var out []model.WorkerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kWorker)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var w model.WorkerRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			})
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SyncInventory(nodeID, url string, chunkIDs []string, at time.Time) error {
	reported := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		reported[id] = true
	}

	return s.db.Update(func(txn *badger.Txn) error {
		seen := make(map[string]bool, len(chunkIDs))

		// First pass: reconcile every file that mentions this worker.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kFile)
		it := txn.NewIterator(opts)
		var dirty []*model.FileRecord
		for it.Rewind(); it.Valid(); it.Next() {
			var f model.FileRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				it.Close()
				return err
			}
			changed := false
			for ci := range f.Chunks {
				c := &f.Chunks[ci]
				kept := c.Replicas[:0]
				for _, p := range c.Replicas {
					if p.NodeID != nodeID {
						kept = append(kept, p)
						continue
					}
					if !reported[c.ID] {
						changed = true
						continue
					}
					p.State = model.PlacementCommitted
					p.URL = url
					p.LastConfirmed = at
					p.Verified = true
					kept = append(kept, p)
					seen[c.ID] = true
					changed = true
				}
				c.Replicas = kept
			}
			if changed {
				rec := f
				dirty = append(dirty, &rec)
			}
		}
		it.Close()

		// Second pass: reported chunks with no placement recorded yet.
		for _, cid := range chunkIDs {
			if seen[cid] {
				continue
			}
			fileID, err := getString(txn, kChunk+cid)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					continue // orphan; the worker-side sweep handles it
				}
				return err
			}
			var target *model.FileRecord
			for _, f := range dirty {
				if f.ID == fileID {
					target = f
					break
				}
			}
			if target == nil {
				f, err := getFileTxn(txn, fileID)
				if err != nil {
					return err
				}
				dirty = append(dirty, f)
				target = f
			}
			for ci := range target.Chunks {
				if target.Chunks[ci].ID != cid {
					continue
				}
				target.Chunks[ci].Replicas = append(target.Chunks[ci].Replicas, model.ReplicaPlacement{
					NodeID:        nodeID,
					URL:           url,
					State:         model.PlacementCommitted,
					LastConfirmed: at,
					Verified:      true,
				})
				break
			}
		}

		for _, f := range dirty {
			if err := setJSON(txn, kFile+f.ID, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Leases
// ============================================================================

func (s *BadgerStore) PutLease(l model.Lease) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var prev model.Lease
		if err := getJSON(txn, kLease+l.ID, &prev); err == nil {
			if err := txn.Delete([]byte(kLeasePath + prev.Path)); err != nil {
				return err
			}
		}
		if err := setJSON(txn, kLease+l.ID, &l); err != nil {
			return err
		}
		return txn.Set([]byte(kLeasePath+l.Path), []byte(l.ID))
	})
}

func (s *BadgerStore) GetLease(id string) (model.Lease, error) {
	var out model.Lease
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, kLease+id, &out); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("lease %s: %w", id, errdefs.ErrNotFound)
			}
			return err
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) GetLeaseByPath(path string) (model.Lease, error) {
	var out model.Lease
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, kLeasePath+path)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("lease for %s: %w", path, errdefs.ErrNotFound)
			}
			return err
		}
		return getJSON(txn, kLease+id, &out)
	})
	return out, err
}

func (s *BadgerStore) DeleteLease(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var l model.Lease
		if err := getJSON(txn, kLease+id, &l); err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		if err := txn.Delete([]byte(kLeasePath + l.Path)); err != nil {
			return err
		}
		return txn.Delete([]byte(kLease + id))
	})
}

func (s *BadgerStore) ListLeases() ([]model.Lease, error) {
	var out []model.Lease
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kLease)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var l model.Lease
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &l)
			})
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}
