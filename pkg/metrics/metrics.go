// Package metrics exposes Prometheus instrumentation for the coordinator and
// the storage workers. Collection is opt-in: nothing is registered until
// InitRegistry is called, and every record helper is a no-op before that.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	c        *driftfsCollectors
)

// driftfsCollectors holds every metric series. Instantiated once by
// InitRegistry.
type driftfsCollectors struct {
	uploadsTotal    *prometheus.CounterVec
	downloadsTotal  *prometheus.CounterVec
	deletesTotal    prometheus.Counter
	heartbeatsTotal prometheus.Counter
	activeNodes     prometheus.Gauge
	repairsTotal    *prometheus.CounterVec
	gcRemovedTotal  prometheus.Counter

	chunkReadBytes  prometheus.Counter
	chunkWriteBytes prometheus.Counter
	chunksStored    prometheus.Gauge
}

// InitRegistry creates the metrics registry and registers all collectors.
// Idempotent; call once at process startup when metrics are enabled.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c = &driftfsCollectors{
		uploadsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_uploads_total",
				Help: "Upload sessions by outcome",
			},
			[]string{"result"}, // "committed", "failed", "abandoned"
		),
		downloadsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_downloads_total",
				Help: "Download requests by outcome",
			},
			[]string{"result"}, // "ok", "failed"
		),
		deletesTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_deletes_total",
				Help: "File delete operations",
			},
		),
		heartbeatsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_heartbeats_total",
				Help: "Worker heartbeats processed",
			},
		),
		activeNodes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftfs_coordinator_active_nodes",
				Help: "Workers currently considered active",
			},
		),
		repairsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_repairs_total",
				Help: "Chunk re-replication attempts by outcome",
			},
			[]string{"result"}, // "scheduled", "failed"
		),
		gcRemovedTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "driftfs_coordinator_gc_removed_total",
				Help: "File records permanently removed by garbage collection",
			},
		),
		chunkReadBytes: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "driftfs_worker_chunk_read_bytes_total",
				Help: "Chunk bytes served by this worker",
			},
		),
		chunkWriteBytes: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "driftfs_worker_chunk_write_bytes_total",
				Help: "Chunk bytes stored by this worker",
			},
		),
		chunksStored: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftfs_worker_chunks_stored",
				Help: "Healthy chunks currently held by this worker",
			},
		),
	}
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// Handler returns the /metrics HTTP handler. Before InitRegistry it serves
// an empty exposition.
func Handler() http.Handler {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordUpload counts an upload session outcome.
func RecordUpload(result string) {
	if c != nil {
		c.uploadsTotal.WithLabelValues(result).Inc()
	}
}

// RecordDownload counts a download outcome.
func RecordDownload(result string) {
	if c != nil {
		c.downloadsTotal.WithLabelValues(result).Inc()
	}
}

// RecordDelete counts a file delete.
func RecordDelete() {
	if c != nil {
		c.deletesTotal.Inc()
	}
}

// RecordHeartbeat counts a processed heartbeat.
func RecordHeartbeat() {
	if c != nil {
		c.heartbeatsTotal.Inc()
	}
}

// SetActiveNodes records the current active worker count.
func SetActiveNodes(n int) {
	if c != nil {
		c.activeNodes.Set(float64(n))
	}
}

// RecordRepair counts a re-replication attempt outcome.
func RecordRepair(result string) {
	if c != nil {
		c.repairsTotal.WithLabelValues(result).Inc()
	}
}

// RecordGCRemoved counts file records removed by garbage collection.
func RecordGCRemoved(n int) {
	if c != nil {
		c.gcRemovedTotal.Add(float64(n))
	}
}

// RecordChunkRead counts chunk bytes served.
func RecordChunkRead(bytes int64) {
	if c != nil {
		c.chunkReadBytes.Add(float64(bytes))
	}
}

// RecordChunkWrite counts chunk bytes stored.
func RecordChunkWrite(bytes int64) {
	if c != nil {
		c.chunkWriteBytes.Add(float64(bytes))
	}
}

// SetChunksStored records the worker's healthy chunk count.
func SetChunksStored(n int) {
	if c != nil {
		c.chunksStored.Set(float64(n))
	}
}
