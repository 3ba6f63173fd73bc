// Package store provides the coordinator's metadata persistence layer.
//
// The MetadataStore interface is the single surface through which the
// coordinator reads and mutates the namespace, the replica index, worker
// records, upload sessions, and leases. Two implementations exist:
//
//   - MemoryStore: in-memory maps journaled to a write-ahead log. Every
//     mutation is fsynced to the journal before it is acknowledged; restart
//     replays the snapshot plus the journal tail.
//   - BadgerStore: an embedded KV store file (dgraph-io/badger) with the
//     same durability contract handled by badger's own value log.
//
// Exactly one process writes a store at a time.
package store

import (
	"fmt"
	"time"

	"github.com/driftfs/driftfs/pkg/model"
)

// Backend selects the metadata store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBadger Backend = "badger"
)

// Config configures the metadata store.
type Config struct {
	// Backend selects the implementation: "memory" (WAL-journaled, the
	// reference) or "badger" (embedded KV store file).
	Backend Backend `mapstructure:"backend" yaml:"backend"`

	// Path is the directory holding the journal and snapshot (memory) or
	// the badger database (badger).
	Path string `mapstructure:"path" yaml:"path"`

	// SnapshotEvery triggers a snapshot plus journal truncation after this
	// many mutations. Only used by the memory backend.
	// Default: 10000
	SnapshotEvery int `mapstructure:"snapshot_every" yaml:"snapshot_every"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.SnapshotEvery == 0 {
		c.SnapshotEvery = 10000
	}
}

// Validate checks the store configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendBadger, "":
	default:
		return fmt.Errorf("unknown store backend %q (expected %q or %q)",
			c.Backend, BackendMemory, BackendBadger)
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot_every must be non-negative, got %d", c.SnapshotEvery)
	}
	return nil
}

// MetadataStore is the coordinator's durable state. All mutations are
// serialized by the implementation; reads return copies that callers may
// modify freely.
type MetadataStore interface {
	// CreateFile inserts a new (typically provisional) file record.
	CreateFile(f model.FileRecord) error

	// UpdateFile replaces an existing record by id.
	UpdateFile(f model.FileRecord) error

	// PublishFile commits f atomically: the record is marked committed and,
	// when supersededID is non-empty, the old record is soft-deleted in the
	// same mutation so the path never has two live owners.
	PublishFile(f model.FileRecord, supersededID string, now time.Time) error

	// GetFileByPath returns the committed, non-deleted record at path.
	GetFileByPath(path string) (model.FileRecord, error)

	// GetFileByID returns any record by id, including provisional and
	// soft-deleted ones.
	GetFileByID(id string) (model.FileRecord, error)

	// ListFiles returns committed, non-deleted records whose path begins
	// with prefix, ordered by path. limit<=0 means no limit.
	ListFiles(prefix string, limit, offset int) ([]model.FileRecord, error)

	// ListAllFiles returns every record, including provisional and
	// soft-deleted ones. Used by the repair and GC loops.
	ListAllFiles() ([]model.FileRecord, error)

	// RemoveFile physically deletes a record and its chunk index entries.
	RemoveFile(id string) error

	// PutSession upserts an upload session keyed by file id.
	PutSession(s model.UploadSession) error

	// GetSession returns the session for a provisional file id.
	GetSession(fileID string) (model.UploadSession, error)

	// DeleteSession removes a session; removing a missing session is a no-op.
	DeleteSession(fileID string) error

	// ListSessions returns all open sessions.
	ListSessions() ([]model.UploadSession, error)

	// PutWorker upserts a worker record.
	PutWorker(w model.WorkerRecord) error

	// GetWorker returns a worker record by id.
	GetWorker(id string) (model.WorkerRecord, error)

	// ListWorkers returns all worker records ordered by id.
	ListWorkers() ([]model.WorkerRecord, error)

	// SyncInventory applies one heartbeat report: after it returns, the set
	// of chunks with a placement on nodeID equals exactly the reported set
	// (restricted to chunks the store knows about), all in committed state.
	SyncInventory(nodeID, url string, chunkIDs []string, at time.Time) error

	// PutLease upserts a path lease.
	PutLease(l model.Lease) error

	// GetLease returns a lease by id.
	GetLease(id string) (model.Lease, error)

	// GetLeaseByPath returns the lease currently held on path.
	GetLeaseByPath(path string) (model.Lease, error)

	// DeleteLease removes a lease; removing a missing lease is a no-op.
	DeleteLease(id string) error

	// ListLeases returns all leases.
	ListLeases() ([]model.Lease, error)

	// Close flushes and releases the store.
	Close() error
}

// Open creates the configured store implementation.
func Open(cfg Config) (MetadataStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return OpenMemory(cfg.Path, cfg.SnapshotEvery)
	case BackendBadger:
		return OpenBadger(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
