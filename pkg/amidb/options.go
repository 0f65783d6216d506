package amidb

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/cache"
)

// Options configures Open, replacing the scattered constructor arguments of
// the lower-level packages with one documented, defaultable struct (spec
// §2 ambient stack: "Configuration").
type Options struct {
	// CacheCapacity is the number of page slots the cache holds resident.
	// Zero means DefaultOptions' value (cache.DefaultCapacity).
	CacheCapacity int

	// ReadOnly opens an existing file without auto-creating a catalog tree;
	// the file must already carry a valid header (pkg/pager.Open's
	// read-only contract). The WAL is still constructed, over a read-only
	// handle.
	ReadOnly bool

	// Log configures the shared structured logger. A nil value falls back
	// to logger.Config{Level: "info"}.
	Log *logger.Config

	// Metrics lets an embedder supply a pre-existing Metrics instance (for
	// example one already registered with their own Prometheus registry).
	// A nil value creates a private one via metrics.New().
	Metrics *metrics.Metrics

	// EnableUptimeTicker starts the best-effort background job that keeps
	// Metrics.UptimeSeconds current (spec §5 ambient concurrency
	// exception). Off by default so opening a DB never spawns a goroutine
	// a caller didn't ask for.
	EnableUptimeTicker bool
}

// DefaultOptions returns the engine's documented defaults.
func DefaultOptions() Options {
	return Options{CacheCapacity: cache.DefaultCapacity}
}
