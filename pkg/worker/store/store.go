// Package store implements the worker's on-disk chunk store.
//
// Each chunk lives as two files under the storage root: <id>.chunk holding
// the raw bytes and <id>.sha256 holding the lowercase hex digest. Both are
// written via temp-file-then-rename with the body renamed first, so a crash
// between the two leaves a body without its sidecar, which inventory
// ignores. Corrupted chunks are quarantined by renaming both files with a
// .bad suffix so they stop being reported.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/checksum"
	"github.com/driftfs/driftfs/pkg/errdefs"
)

const (
	chunkExt   = ".chunk"
	sidecarExt = ".sha256"
	badExt     = ".bad"
	tmpPrefix  = ".tmp-"
)

// Info describes one stored chunk.
type Info struct {
	Size     int64
	Checksum string
}

// DiskStore is a content-addressed chunk store over one directory. The
// in-memory inventory is updated on every mutation and reconciled by Scan.
type DiskStore struct {
	root string

	mu        sync.Mutex
	inventory map[string]Info
}

// Open prepares the store rooted at dir and runs the initial inventory scan.
func Open(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	s := &DiskStore{
		root:      dir,
		inventory: make(map[string]Info),
	}
	if err := s.Scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) chunkPath(id string) string {
	return filepath.Join(s.root, id+chunkExt)
}

func (s *DiskStore) sidecarPath(id string) string {
	return filepath.Join(s.root, id+sidecarExt)
}

// validateID rejects ids that could escape the storage root.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: malformed chunk id %q", errdefs.ErrInvalid, id)
	}
	return nil
}

// Write streams body into the store under id, computing SHA-256
// incrementally, and returns the stored size and digest.
//
// Chunks are immutable: a repeated write to an existing id drains the body
// and returns the existing size and digest unchanged.
func (s *DiskStore) Write(id string, body io.Reader) (Info, error) {
	if err := validateID(id); err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	existing, ok := s.inventory[id]
	s.mu.Unlock()
	if ok {
		// Drain so the HTTP connection can be reused, then keep what we have.
		if _, err := io.Copy(io.Discard, body); err != nil {
			return Info{}, fmt.Errorf("failed to drain repeated write: %w", err)
		}
		return existing, nil
	}

	tmp, err := os.CreateTemp(s.root, tmpPrefix+id+"-*")
	if err != nil {
		return Info{}, wrapIOErr("failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	dw := checksum.NewWriter(tmp)
	if _, err := io.Copy(dw, body); err != nil {
		tmp.Close()
		return Info{}, wrapIOErr("failed to write chunk body", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Info{}, wrapIOErr("failed to sync chunk body", err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, wrapIOErr("failed to close chunk body", err)
	}

	info := Info{Size: dw.Size(), Checksum: dw.Sum()}

	// Body first, sidecar second: a crash in between leaves a body without
	// a sidecar, which inventory ignores.
	if err := os.Rename(tmpName, s.chunkPath(id)); err != nil {
		return Info{}, wrapIOErr("failed to publish chunk body", err)
	}
	if err := s.writeSidecar(id, info.Checksum); err != nil {
		os.Remove(s.chunkPath(id))
		return Info{}, err
	}

	s.mu.Lock()
	s.inventory[id] = info
	s.mu.Unlock()
	return info, nil
}

// writeSidecar publishes the digest file via temp-then-rename.
func (s *DiskStore) writeSidecar(id, digest string) error {
	tmp, err := os.CreateTemp(s.root, tmpPrefix+id+"-sum-*")
	if err != nil {
		return wrapIOErr("failed to create sidecar temp", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(digest); err != nil {
		tmp.Close()
		return wrapIOErr("failed to write sidecar", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrapIOErr("failed to sync sidecar", err)
	}
	if err := tmp.Close(); err != nil {
		return wrapIOErr("failed to close sidecar", err)
	}
	if err := os.Rename(tmpName, s.sidecarPath(id)); err != nil {
		return wrapIOErr("failed to publish sidecar", err)
	}
	return nil
}

// Stat returns the stored size and digest of a chunk.
func (s *DiskStore) Stat(id string) (Info, error) {
	if err := validateID(id); err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.inventory[id]
	if !ok {
		return Info{}, fmt.Errorf("chunk %s: %w", id, errdefs.ErrNotFound)
	}
	return info, nil
}

// Reader streams a chunk's bytes while verifying them against the sidecar
// digest. If the recomputed digest does not match at EOF, the read fails
// with errdefs.ErrCorrupted and the chunk is quarantined so the next
// heartbeat stops reporting it.
func (s *DiskStore) Reader(id string) (io.ReadCloser, Info, error) {
	info, err := s.Stat(id)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(s.chunkPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Info{}, fmt.Errorf("chunk %s: %w", id, errdefs.ErrNotFound)
		}
		return nil, Info{}, wrapIOErr("failed to open chunk", err)
	}
	vr := &verifiedReader{
		VerifyingReader: checksum.NewVerifyingReader(f, info.Checksum),
		f:               f,
		store:           s,
		id:              id,
	}
	return vr, info, nil
}

// verifiedReader quarantines its chunk when verification fails.
type verifiedReader struct {
	*checksum.VerifyingReader
	f     *os.File
	store *DiskStore
	id    string
}

func (r *verifiedReader) Read(p []byte) (int, error) {
	n, err := r.VerifyingReader.Read(p)
	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) {
		logger.Warn("chunk failed verification, quarantining",
			logger.KeyChunkID, r.id,
			logger.KeyChecksum, mismatch.Actual)
		r.store.Quarantine(r.id)
		return n, fmt.Errorf("chunk %s: %s: %w", r.id, mismatch.Error(), errdefs.ErrCorrupted)
	}
	return n, err
}

func (r *verifiedReader) Close() error {
	return r.f.Close()
}

// Delete removes a chunk and its sidecar. Deleting a missing chunk is a
// no-op.
func (s *DiskStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.inventory, id)
	s.mu.Unlock()

	for _, p := range []string{s.chunkPath(id), s.sidecarPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return wrapIOErr("failed to delete chunk", err)
		}
	}
	return nil
}

// Quarantine renames both files with a .bad suffix and drops the chunk from
// the inventory.
func (s *DiskStore) Quarantine(id string) {
	s.mu.Lock()
	delete(s.inventory, id)
	s.mu.Unlock()

	for _, p := range []string{s.chunkPath(id), s.sidecarPath(id)} {
		if err := os.Rename(p, p+badExt); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to quarantine chunk file",
				logger.KeyChunkID, id,
				logger.KeyError, err.Error())
		}
	}
}

// ChunkIDs returns the sorted ids of all healthy chunks.
func (s *DiskStore) ChunkIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inventory))
	for id := range s.inventory {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of healthy chunks.
func (s *DiskStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inventory)
}

// UsedBytes returns the total size of all healthy chunks.
func (s *DiskStore) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, info := range s.inventory {
		total += info.Size
	}
	return total
}

// Scan rebuilds the inventory from disk. Chunks missing their sidecar,
// carrying a malformed digest, or left behind as temp files are excluded.
// Runs at startup and periodically to catch out-of-band modifications.
func (s *DiskStore) Scan() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return wrapIOErr("failed to scan storage root", err)
	}

	fresh := make(map[string]Info)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, chunkExt) {
			continue
		}
		id := strings.TrimSuffix(name, chunkExt)

		digest, err := s.readSidecar(id)
		if err != nil {
			logger.Debug("inventory scan skipping chunk without valid sidecar",
				logger.KeyChunkID, id,
				logger.KeyError, err.Error())
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		fresh[id] = Info{Size: fi.Size(), Checksum: digest}
	}

	s.mu.Lock()
	s.inventory = fresh
	s.mu.Unlock()
	return nil
}

// readSidecar reads and validates the digest file of a chunk.
func (s *DiskStore) readSidecar(id string) (string, error) {
	data, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		return "", err
	}
	digest := strings.TrimSpace(string(data))
	if len(digest) != checksum.HexLen {
		return "", fmt.Errorf("malformed digest %q", digest)
	}
	return digest, nil
}

// Scrub re-reads every stored chunk and compares its recomputed digest to
// the sidecar, quarantining mismatches. Returns the number of chunks checked
// and the number quarantined.
func (s *DiskStore) Scrub() (checked, corrupted int) {
	for _, id := range s.ChunkIDs() {
		info, err := s.Stat(id)
		if err != nil {
			continue
		}
		f, err := os.Open(s.chunkPath(id))
		if err != nil {
			continue
		}
		sum, _, err := checksum.SumReader(f)
		f.Close()
		checked++
		if err != nil {
			continue
		}
		if sum != info.Checksum {
			logger.Warn("scrub found bit rot, quarantining chunk",
				logger.KeyChunkID, id,
				logger.KeyChecksum, sum)
			s.Quarantine(id)
			corrupted++
		}
	}
	return checked, corrupted
}

// NewChunkID returns a fresh chunk id. Exposed for tests that need ids in
// the same shape the coordinator generates.
func NewChunkID() string {
	return uuid.NewString()
}

// wrapIOErr classifies a local IO failure, mapping a full disk to
// errdefs.ErrNoSpace.
func wrapIOErr(msg string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %v: %w", msg, err, errdefs.ErrNoSpace)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
