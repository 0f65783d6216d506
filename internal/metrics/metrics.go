// Package metrics provides Prometheus instrumentation for the amidb storage
// engine. The engine never starts an HTTP listener itself: each Metrics
// instance carries its own registry, and an embedder that wants the usual
// /metrics exposition registers that registry with its own server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

// Metrics holds all Prometheus collectors for one engine instance.
type Metrics struct {
	Registry *prometheus.Registry

	PagesAllocatedTotal prometheus.Counter
	PagesFreedTotal     prometheus.Counter
	BitmapFullTotal     prometheus.Counter

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CachePinnedGauge    prometheus.Gauge

	WALBytesFlushedTotal prometheus.Counter
	WALFlushDuration     prometheus.Histogram
	WALRecoveryRunsTotal prometheus.Counter

	TxnCommitsTotal prometheus.Counter
	TxnAbortsTotal  prometheus.Counter

	BTreeHeightGauge  prometheus.Gauge
	BTreeEntriesGauge prometheus.Gauge

	TablesCreatedTotal prometheus.Counter
	TablesDroppedTotal prometheus.Counter

	UptimeSeconds prometheus.Gauge

	StartTime time.Time
}

// New creates a Metrics instance bound to a fresh, private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PagesAllocatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_pages_allocated_total",
			Help: "Total number of pages allocated from the bitmap.",
		}),
		PagesFreedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_pages_freed_total",
			Help: "Total number of pages returned to the bitmap.",
		}),
		BitmapFullTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_bitmap_full_total",
			Help: "Total number of allocation attempts that found no free page.",
		}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_cache_hits_total",
			Help: "Total number of page cache hits.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_cache_misses_total",
			Help: "Total number of page cache misses.",
		}),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_cache_evictions_total",
			Help: "Total number of page cache evictions.",
		}),
		CachePinnedGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "amidb_cache_pinned_pages",
			Help: "Current number of pinned pages in the cache.",
		}),

		WALBytesFlushedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_wal_bytes_flushed_total",
			Help: "Total number of WAL bytes written to the on-disk region.",
		}),
		WALFlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amidb_wal_flush_duration_seconds",
			Help:    "Duration of WAL flush operations.",
			Buckets: prometheus.DefBuckets,
		}),
		WALRecoveryRunsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_wal_recovery_runs_total",
			Help: "Total number of recovery passes run at open.",
		}),

		TxnCommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_txn_commits_total",
			Help: "Total number of committed transactions.",
		}),
		TxnAbortsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_txn_aborts_total",
			Help: "Total number of aborted transactions.",
		}),

		BTreeHeightGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "amidb_btree_height",
			Help: "Height of the most recently measured B+Tree.",
		}),
		BTreeEntriesGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "amidb_btree_entries",
			Help: "Entry count of the most recently measured B+Tree.",
		}),

		TablesCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_tables_created_total",
			Help: "Total number of tables created through the catalog.",
		}),
		TablesDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amidb_tables_dropped_total",
			Help: "Total number of tables dropped through the catalog.",
		}),

		UptimeSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "amidb_uptime_seconds",
			Help: "Seconds since this Metrics instance was created.",
		}),

		StartTime: time.Now(),
	}
}

// StartUptimeTicker runs a best-effort background job that refreshes
// UptimeSeconds every 15 seconds. It touches nothing but its own gauge and
// m.StartTime: no pager, cache, B+Tree, or WAL state is read or written,
// keeping this outside the engine's single-threaded cooperative model
// (spec §5 ambient concurrency exception). The caller owns the returned
// scheduler and must Stop it when the engine closes.
func (m *Metrics) StartUptimeTicker() *cron.Cron {
	c := cron.New(cron.WithSeconds())
	c.AddFunc("*/15 * * * * *", func() {
		m.UptimeSeconds.Set(time.Since(m.StartTime).Seconds())
	})
	c.Start()
	return c
}
