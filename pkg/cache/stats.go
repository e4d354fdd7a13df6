// This module is how a cache reports what it is doing. Four monotonic counters (hits, misses, evictions,
// expirations) are kept as atomics for the cache's lifetime and mirrored to prometheus, labeled by cache name.
// Derived views (hit rate, top hits, age/size histograms) are computed on demand from the live items, never
// maintained incrementally.

package cache

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "casket_cache_events_total",
	Help: "The total number of cache events by cache instance and event type",
}, []string{
	"cache", // The cache instance name.
	"event", // One of: hit, miss, eviction, expiration.
})

const (
	eventHit        = "hit"
	eventMiss       = "miss"
	eventEviction   = "eviction"
	eventExpiration = "expiration"
)

// counters holds the cache-lifetime event counters. Reads never take the cache mutex.
type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// reset zeroes all counters. Only Clear is allowed to call this; the prometheus mirror is cumulative by design
// and is not reset.
func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.expirations.Store(0)
}

// Stats is the summary view of a cache instance.
type Stats struct {
	Entries     int
	SizeBytes   int64
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	HitRate     float64 // hits / (hits + misses); 0 when there were no requests yet.
	MissRate    float64
}

// ItemStats describes one live item inside DetailedStats.
type ItemStats struct {
	Key  string
	Hits int64
	Size int64
	Age  time.Duration
}

// DetailedStats extends Stats with the most requested items and on-demand distributions over the live items.
type DetailedStats struct {
	Stats
	TopHits       []ItemStats
	AgeHistogram  map[string]int
	SizeHistogram map[string]int
}

// ageBucket places an item age into a coarse histogram bucket.
func ageBucket(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "<1m"
	case age < 10*time.Minute:
		return "1m-10m"
	case age < time.Hour:
		return "10m-1h"
	case age < 24*time.Hour:
		return "1h-24h"
	default:
		return ">=24h"
	}
}

// sizeBucket places an item size into a coarse histogram bucket.
func sizeBucket(size int64) string {
	switch {
	case size < 1<<10:
		return "<1KiB"
	case size < 64<<10:
		return "1KiB-64KiB"
	case size < 1<<20:
		return "64KiB-1MiB"
	default:
		return ">=1MiB"
	}
}
