package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

const (
	journalFile  = "journal.wal"
	snapshotFile = "snapshot.json"

	opCreateFile    = "create_file"
	opUpdateFile    = "update_file"
	opPublishFile   = "publish_file"
	opRemoveFile    = "remove_file"
	opPutSession    = "put_session"
	opDeleteSession = "delete_session"
	opPutWorker     = "put_worker"
	opSyncInventory = "sync_inventory"
	opPutLease      = "put_lease"
	opDeleteLease   = "delete_lease"
)

// Journal payloads. Replay decodes these back into the same apply functions
// that served the original mutation.
type fileOp struct {
	File         model.FileRecord `json:"file"`
	SupersededID string           `json:"superseded_id,omitempty"`
	Now          time.Time        `json:"now,omitempty"`
}

type idOp struct {
	ID string `json:"id"`
}

type sessionOp struct {
	Session model.UploadSession `json:"session"`
}

type workerOp struct {
	Worker model.WorkerRecord `json:"worker"`
}

type syncOp struct {
	NodeID   string    `json:"node_id"`
	URL      string    `json:"url"`
	ChunkIDs []string  `json:"chunk_ids"`
	At       time.Time `json:"at"`
}

type leaseOp struct {
	Lease model.Lease `json:"lease"`
}

// snapshotState is the periodic full-state dump that bounds journal growth.
type snapshotState struct {
	Seq      uint64                          `json:"seq"`
	Files    map[string]*model.FileRecord    `json:"files"`
	Sessions map[string]*model.UploadSession `json:"sessions"`
	Workers  map[string]*model.WorkerRecord  `json:"workers"`
	Leases   map[string]*model.Lease         `json:"leases"`
}

// MemoryStore is the reference MetadataStore: in-memory maps guarded by a
// single writer lock, journaled to a write-ahead log that is fsynced before
// each mutation is acknowledged. With an empty path the store is volatile,
// which the test suites use.
type MemoryStore struct {
	mu sync.RWMutex

	files    map[string]*model.FileRecord
	sessions map[string]*model.UploadSession
	workers  map[string]*model.WorkerRecord
	leases   map[string]*model.Lease

	// Derived indexes, rebuilt on load.
	pathIdx   map[string]string // live committed path -> file id
	chunkIdx  map[string]string // chunk id -> file id
	leasePath map[string]string // path -> lease id

	j             *journal
	dir           string
	snapshotEvery int
	mutations     int
}

// OpenMemory opens the journaled memory store rooted at dir. An empty dir
// yields a volatile store with no journal.
func OpenMemory(dir string, snapshotEvery int) (*MemoryStore, error) {
	s := &MemoryStore{
		files:         make(map[string]*model.FileRecord),
		sessions:      make(map[string]*model.UploadSession),
		workers:       make(map[string]*model.WorkerRecord),
		leases:        make(map[string]*model.Lease),
		pathIdx:       make(map[string]string),
		chunkIdx:      make(map[string]string),
		leasePath:     make(map[string]string),
		dir:           dir,
		snapshotEvery: snapshotEvery,
	}

	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	seq, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}

	lastSeq, err := replayJournal(filepath.Join(dir, journalFile), func(e journalEntry) error {
		if e.Seq <= seq {
			return nil // already covered by the snapshot
		}
		return s.applyEntry(e.Op, e.Data)
	})
	if err != nil {
		return nil, err
	}
	if lastSeq < seq {
		lastSeq = seq
	}

	s.rebuildIndexes()

	j, err := openJournal(filepath.Join(dir, journalFile), lastSeq)
	if err != nil {
		return nil, err
	}
	s.j = j
	return s, nil
}

// loadSnapshot restores the last snapshot if one exists and returns its
// sequence number.
func (s *MemoryStore) loadSnapshot() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap snapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Files != nil {
		s.files = snap.Files
	}
	if snap.Sessions != nil {
		s.sessions = snap.Sessions
	}
	if snap.Workers != nil {
		s.workers = snap.Workers
	}
	if snap.Leases != nil {
		s.leases = snap.Leases
	}
	return snap.Seq, nil
}

// rebuildIndexes re-derives the path, chunk, and lease indexes from the
// primary maps.
func (s *MemoryStore) rebuildIndexes() {
	s.pathIdx = make(map[string]string, len(s.files))
	s.chunkIdx = make(map[string]string)
	s.leasePath = make(map[string]string, len(s.leases))
	for id, f := range s.files {
		if f.Committed && !f.IsDeleted {
			s.pathIdx[f.Path] = id
		}
		for _, c := range f.Chunks {
			s.chunkIdx[c.ID] = id
		}
	}
	for id, l := range s.leases {
		s.leasePath[l.Path] = id
	}
}

// mutate journals one operation and applies it in memory. The journal write
// (with fsync) happens before the in-memory change so an acknowledged
// mutation is always recoverable.
func (s *MemoryStore) mutate(op string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}
	if s.j != nil {
		if err := s.j.append(op, data); err != nil {
			return err
		}
	}
	if err := s.applyEntry(op, data); err != nil {
		return err
	}
	return s.maybeSnapshot()
}

// applyEntry dispatches one journal entry to its apply function. Used both
// for live mutations and for replay.
func (s *MemoryStore) applyEntry(op string, data json.RawMessage) error {
	switch op {
	case opCreateFile, opUpdateFile, opPublishFile:
		var p fileOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		switch op {
		case opCreateFile, opUpdateFile:
			s.applyPutFile(&p.File)
		case opPublishFile:
			s.applyPublishFile(&p.File, p.SupersededID, p.Now)
		}
	case opRemoveFile:
		var p idOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		s.applyRemoveFile(p.ID)
	case opPutSession:
		var p sessionOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		sess := p.Session
		s.sessions[sess.FileID] = &sess
	case opDeleteSession:
		var p idOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		delete(s.sessions, p.ID)
	case opPutWorker:
		var p workerOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		w := p.Worker
		s.workers[w.ID] = &w
	case opSyncInventory:
		var p syncOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		s.applySyncInventory(p.NodeID, p.URL, p.ChunkIDs, p.At)
	case opPutLease:
		var p leaseOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		l := p.Lease
		if prev, ok := s.leases[l.ID]; ok {
			delete(s.leasePath, prev.Path)
		}
		s.leases[l.ID] = &l
		s.leasePath[l.Path] = l.ID
	case opDeleteLease:
		var p idOp
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if l, ok := s.leases[p.ID]; ok {
			delete(s.leasePath, l.Path)
			delete(s.leases, p.ID)
		}
	default:
		return fmt.Errorf("unknown journal op %q", op)
	}
	return nil
}

func (s *MemoryStore) applyPutFile(f *model.FileRecord) {
	if prev, ok := s.files[f.ID]; ok {
		if s.pathIdx[prev.Path] == f.ID {
			delete(s.pathIdx, prev.Path)
		}
		for _, c := range prev.Chunks {
			delete(s.chunkIdx, c.ID)
		}
	}
	rec := cloneFile(f)
	s.files[f.ID] = rec
	if rec.Committed && !rec.IsDeleted {
		s.pathIdx[rec.Path] = rec.ID
	}
	for _, c := range rec.Chunks {
		s.chunkIdx[c.ID] = rec.ID
	}
}

func (s *MemoryStore) applyPublishFile(f *model.FileRecord, supersededID string, now time.Time) {
	if supersededID != "" {
		if old, ok := s.files[supersededID]; ok && !old.IsDeleted {
			old.IsDeleted = true
			t := now
			old.DeletedAt = &t
			if s.pathIdx[old.Path] == old.ID {
				delete(s.pathIdx, old.Path)
			}
		}
	}
	published := cloneFile(f)
	published.Committed = true
	s.applyPutFile(published)
}

func (s *MemoryStore) applyRemoveFile(id string) {
	f, ok := s.files[id]
	if !ok {
		return
	}
	if s.pathIdx[f.Path] == id {
		delete(s.pathIdx, f.Path)
	}
	for _, c := range f.Chunks {
		delete(s.chunkIdx, c.ID)
	}
	delete(s.files, id)
}

// applySyncInventory makes the placement index agree exactly with one
// worker's reported chunk set. Reported chunks the store has never heard of
// are ignored; they are orphans for the worker-side sweep.
func (s *MemoryStore) applySyncInventory(nodeID, url string, chunkIDs []string, at time.Time) {
	reported := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		reported[id] = true
	}

	seen := make(map[string]bool, len(chunkIDs))
	for _, f := range s.files {
		for ci := range f.Chunks {
			c := &f.Chunks[ci]
			kept := c.Replicas[:0]
			for _, p := range c.Replicas {
				if p.NodeID != nodeID {
					kept = append(kept, p)
					continue
				}
				if !reported[c.ID] {
					continue // the worker no longer holds it
				}
				p.State = model.PlacementCommitted
				p.URL = url
				p.LastConfirmed = at
				p.Verified = true
				kept = append(kept, p)
				seen[c.ID] = true
			}
			c.Replicas = kept
		}
	}

	// Reported chunks with no recorded placement on this worker yet.
	for _, cid := range chunkIDs {
		if seen[cid] {
			continue
		}
		fileID, ok := s.chunkIdx[cid]
		if !ok {
			continue
		}
		f := s.files[fileID]
		for ci := range f.Chunks {
			if f.Chunks[ci].ID != cid {
				continue
			}
			f.Chunks[ci].Replicas = append(f.Chunks[ci].Replicas, model.ReplicaPlacement{
				NodeID:        nodeID,
				URL:           url,
				State:         model.PlacementCommitted,
				LastConfirmed: at,
				Verified:      true,
			})
			break
		}
	}
}

// maybeSnapshot writes a snapshot and truncates the journal once enough
// mutations have accumulated.
func (s *MemoryStore) maybeSnapshot() error {
	if s.j == nil || s.snapshotEvery <= 0 {
		return nil
	}
	s.mutations++
	if s.mutations < s.snapshotEvery {
		return nil
	}
	if err := s.writeSnapshot(); err != nil {
		return err
	}
	s.mutations = 0
	return s.j.reset()
}

// writeSnapshot dumps the full state via temp-file-then-rename.
func (s *MemoryStore) writeSnapshot() error {
	snap := snapshotState{
		Seq:      s.j.seq,
		Files:    s.files,
		Sessions: s.sessions,
		Workers:  s.workers,
		Leases:   s.leases,
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := filepath.Join(s.dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, snapshotFile)); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// ============================================================================
// Files
// ============================================================================

func (s *MemoryStore) CreateFile(f model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return fmt.Errorf("file %s already exists", f.ID)
	}
	return s.mutate(opCreateFile, fileOp{File: f})
}

func (s *MemoryStore) UpdateFile(f model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; !ok {
		return fmt.Errorf("file %s: %w", f.ID, errdefs.ErrNotFound)
	}
	return s.mutate(opUpdateFile, fileOp{File: f})
}

func (s *MemoryStore) PublishFile(f model.FileRecord, supersededID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opPublishFile, fileOp{File: f, SupersededID: supersededID, Now: now})
}

func (s *MemoryStore) GetFileByPath(path string) (model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pathIdx[path]
	if !ok {
		return model.FileRecord{}, fmt.Errorf("file %s: %w", path, errdefs.ErrNotFound)
	}
	return *cloneFile(s.files[id]), nil
}

func (s *MemoryStore) GetFileByID(id string) (model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return model.FileRecord{}, fmt.Errorf("file %s: %w", id, errdefs.ErrNotFound)
	}
	return *cloneFile(f), nil
}

func (s *MemoryStore) ListFiles(prefix string, limit, offset int) ([]model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FileRecord
	for _, id := range s.pathIdx {
		f := s.files[id]
		if strings.HasPrefix(f.Path, prefix) {
			out = append(out, *cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

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

func (s *MemoryStore) ListAllFiles() ([]model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *cloneFile(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RemoveFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opRemoveFile, idOp{ID: id})
}

// ============================================================================
// Sessions
// ============================================================================

func (s *MemoryStore) PutSession(sess model.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opPutSession, sessionOp{Session: sess})
}

func (s *MemoryStore) GetSession(fileID string) (model.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[fileID]
	if !ok {
		return model.UploadSession{}, fmt.Errorf("session %s: %w", fileID, errdefs.ErrNotFound)
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) DeleteSession(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opDeleteSession, idOp{ID: fileID})
}

func (s *MemoryStore) ListSessions() ([]model.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.UploadSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

// ============================================================================
// Workers
// ============================================================================

func (s *MemoryStore) PutWorker(w model.WorkerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opPutWorker, workerOp{Worker: w})
}

func (s *MemoryStore) GetWorker(id string) (model.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return model.WorkerRecord{}, fmt.Errorf("node %s: %w", id, errdefs.ErrNotFound)
	}
	return *w, nil
}

func (s *MemoryStore) ListWorkers() ([]model.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkerRecord, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SyncInventory(nodeID, url string, chunkIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opSyncInventory, syncOp{NodeID: nodeID, URL: url, ChunkIDs: chunkIDs, At: at})
}

// ============================================================================
// Leases
// ============================================================================

func (s *MemoryStore) PutLease(l model.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opPutLease, leaseOp{Lease: l})
}

func (s *MemoryStore) GetLease(id string) (model.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leases[id]
	if !ok {
		return model.Lease{}, fmt.Errorf("lease %s: %w", id, errdefs.ErrNotFound)
	}
	return *l, nil
}

func (s *MemoryStore) GetLeaseByPath(path string) (model.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.leasePath[path]
	if !ok {
		return model.Lease{}, fmt.Errorf("lease for %s: %w", path, errdefs.ErrNotFound)
	}
	return *s.leases[id], nil
}

func (s *MemoryStore) DeleteLease(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opDeleteLease, idOp{ID: id})
}

func (s *MemoryStore) ListLeases() ([]model.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close snapshots (when journaled) and releases the journal.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.j == nil {
		return nil
	}
	if err := s.writeSnapshot(); err != nil {
		return err
	}
	if err := s.j.reset(); err != nil {
		return err
	}
	return s.j.close()
}

// ============================================================================
// Copy helpers
// ============================================================================

func cloneFile(f *model.FileRecord) *model.FileRecord {
	out := *f
	out.Chunks = make([]model.ChunkRecord, len(f.Chunks))
	for i, c := range f.Chunks {
		out.Chunks[i] = c
		out.Chunks[i].Replicas = append([]model.ReplicaPlacement(nil), c.Replicas...)
	}
	if f.DeletedAt != nil {
		t := *f.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

func cloneSession(sess *model.UploadSession) model.UploadSession {
	out := *sess
	out.Chunks = make([]model.SessionChunk, len(sess.Chunks))
	for i, c := range sess.Chunks {
		out.Chunks[i] = c
		out.Chunks[i].Targets = append([]model.PlacementTarget(nil), c.Targets...)
	}
	return out
}
