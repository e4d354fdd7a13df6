// Casket stores opaque values under caller-chosen keys and deduplicates them by content hash. A cache instance
// enforces a byte-size ceiling and an entry-count ceiling through LRU eviction, expires items by TTL (lazily on
// read plus a periodic background sweep), and optionally mirrors its state to a directory on disk.
//
// The item store, the content index, the recency list and the size accounting form one consistency domain: they
// are only ever mutated together behind a single mutex, so the content index can never point at a dead item and
// the accounted size always equals the sum of the live items' sizes.

package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/casketcache/casket/pkg/persist"
	"github.com/casketcache/casket/pkg/utils"
)

// ErrValueTooLarge is returned by Set when a single value's canonical serialization exceeds the cache's byte
// ceiling. Such a value could never fit even after evicting everything, so it is rejected up front instead of
// draining the cache in a futile eviction loop.
var ErrValueTooLarge = errors.New("value exceeds the cache size limit")

// Config carries the construction-time parameters of a cache instance. None of them are runtime-mutable.
type Config struct {
	MaxSizeBytes    int64         // Byte ceiling over the canonical serializations of all live items.
	MaxEntries      int           // Entry-count ceiling.
	DefaultTTL      time.Duration // Applied when Set is called without an explicit TTL.
	SweepInterval   time.Duration // Period of the background expiration sweep.
	PersistInterval time.Duration // Period of the background persistence flush; only used when Persist is set.
	Persist         bool          // Mirror state to Dir when set.
	Dir             string        // Directory owned by this instance; required when Persist is set.
}

const (
	defaultMaxSizeBytes    = 100 << 20 // 100 MiB
	defaultMaxEntries      = 10_000
	defaultTTL             = time.Hour
	defaultSweepInterval   = time.Minute
	defaultPersistInterval = 5 * time.Minute
)

// withDefaults fills the zero fields of a config with the package defaults.
func (conf Config) withDefaults() Config {
	if conf.MaxSizeBytes <= 0 {
		conf.MaxSizeBytes = defaultMaxSizeBytes
	}
	if conf.MaxEntries <= 0 {
		conf.MaxEntries = defaultMaxEntries
	}
	if conf.DefaultTTL <= 0 {
		conf.DefaultTTL = defaultTTL
	}
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = defaultSweepInterval
	}
	if conf.PersistInterval <= 0 {
		conf.PersistInterval = defaultPersistInterval
	}
	return conf
}

// SetOptions carries the optional parameters of a Set call.
type SetOptions struct {
	// TTL overrides the cache's default TTL. Zero means the default; a negative TTL inserts an already-expired
	// item, which the very next read reports as a miss.
	TTL time.Duration
	// Metadata is an opaque free-text side channel attached to the item, used only by FindSimilar.
	Metadata string
}

// Cache is a content-addressed key-value cache. The zero value is not usable; construct instances with New.
type Cache[V any] struct {
	name  string
	conf  Config
	store *persist.Store // Nil when persistence is disabled.

	mux       sync.Mutex
	items     map[string]*lruNode[V]
	byContent *contentIndex
	recency   lruList[V]
	sizeBytes int64

	counters counters
	stop     chan struct{}
	loops    sync.WaitGroup
	closed   bool
}

// New constructs a cache instance and starts its background loops. When persistence is enabled, the previous
// state found in conf.Dir is loaded before New returns; unreadable entries are skipped, never fatal. The ctx
// bounds the background loops in addition to Shutdown.
func New[V any](ctx context.Context, name string, conf Config) (*Cache[V], error) {
	if name == "" {
		return nil, errors.New("expected a non-empty cache name")
	}
	conf = conf.withDefaults()
	c := &Cache[V]{
		name:      name,
		conf:      conf,
		items:     make(map[string]*lruNode[V]),
		byContent: newContentIndex(),
		stop:      make(chan struct{}),
	}

	if conf.Persist {
		store, err := persist.Open(conf.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistence for cache %q: %w", name, err)
		}
		c.store = store
		c.loadPersisted()
	}

	c.loops.Add(1)
	go c.sweepLoop(ctx)
	if c.store != nil {
		c.loops.Add(1)
		go c.persistLoop(ctx)
	}
	return c, nil
}

// Name returns the cache instance name.
func (c *Cache[V]) Name() string {
	return c.name
}

// Set stores a value under a key with the default TTL and no metadata.
func (c *Cache[V]) Set(key string, value V) error {
	return c.SetWithOptions(key, value, SetOptions{})
}

// SetWithOptions stores a value under a key. When an unexpired item with identical content already lives under a
// different key, the stored item is cloned under the new key so the payload is accounted once in memory and once
// on disk. Otherwise LRU items are evicted until both capacity bounds hold, the previous item under the key (if
// any) is released, and the new item is inserted. The whole operation is atomic with respect to all other cache
// operations.
func (c *Cache[V]) SetWithOptions(key string, value V, opts SetOptions) error {
	payload, err := canonicalize(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value for key %q: %w", key, err)
	}
	size := int64(len(payload))
	if size > c.conf.MaxSizeBytes {
		return fmt.Errorf("%w: key %q needs %d bytes, limit is %d", ErrValueTooLarge, key, size, c.conf.MaxSizeBytes)
	}
	contentHash := Digest(payload)
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.conf.DefaultTTL
	}
	now := time.Now()

	c.mux.Lock()
	defer c.mux.Unlock()

	it := &item[V]{
		key:          key,
		contentHash:  contentHash,
		value:        value,
		payload:      payload,
		size:         size,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		metadata:     opts.Metadata,
		tokens:       newTokenFilter(opts.Metadata),
	}

	// Dedup fast path: identical content already stored under another live key. Share its value and payload so
	// the bytes exist once; the clone still gets its own timestamps, hits and metadata.
	if otherKey, found := c.byContent.resolve(contentHash); found && otherKey != key {
		if n, exists := c.items[otherKey]; exists && !n.it.expired(now) {
			it.value = n.it.value
			it.payload = n.it.payload
		}
	}

	// Release the previous item under this key before accounting the new one.
	if n, exists := c.items[key]; exists {
		c.unlink(n)
	}

	// Evict least-recently-used items until both bounds accept the insert. Terminates because every eviction
	// strictly shrinks both counters and the oversized case was rejected above.
	for c.sizeBytes+size > c.conf.MaxSizeBytes || len(c.items)+1 > c.conf.MaxEntries {
		victim := c.recency.back()
		if victim == nil {
			utils.RaiseInvariant("cache", "eviction_on_empty_cache",
				"Capacity loop ran out of victims with bounds still unsatisfied.",
				"cache", c.name, "sizeBytes", c.sizeBytes, "incomingSize", size)
			break
		}
		c.unlink(victim)
		c.counters.evictions.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventEviction).Inc()
	}

	n := c.recency.pushFront(it)
	c.items[key] = n
	c.byContent.add(contentHash, key)
	c.sizeBytes += size
	return nil
}

// Get returns the value stored under a key. An absent key is a miss; an expired one is removed first (lazy
// expiration) and reported as a miss. A hit bumps the item's hit count and recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.getLocked(key, time.Now())
}

// getLocked implements Get under the cache mutex.
func (c *Cache[V]) getLocked(key string, now time.Time) (V, bool) {
	var zero V
	n, exists := c.items[key]
	if !exists {
		c.counters.misses.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventMiss).Inc()
		return zero, false
	}
	if n.it.expired(now) {
		c.unlink(n)
		c.counters.expirations.Add(1)
		c.counters.misses.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventExpiration).Inc()
		cacheEventsMetric.WithLabelValues(c.name, eventMiss).Inc()
		return zero, false
	}
	n.it.lastAccessed = now
	n.it.hits++
	c.recency.moveToFront(n)
	c.counters.hits.Add(1)
	cacheEventsMetric.WithLabelValues(c.name, eventHit).Inc()
	return n.it.value, true
}

// GetByContent looks a value up by its content rather than its key: the value is canonicalized, its digest is
// resolved through the content index, and the lookup proceeds with Get semantics on the resolved key.
func (c *Cache[V]) GetByContent(value V) (V, bool) {
	var zero V
	payload, err := canonicalize(value)
	if err != nil {
		return zero, false
	}
	contentHash := Digest(payload)

	c.mux.Lock()
	defer c.mux.Unlock()
	key, found := c.byContent.resolve(contentHash)
	if !found {
		c.counters.misses.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventMiss).Inc()
		return zero, false
	}
	return c.getLocked(key, time.Now())
}

// Has reports whether a live item exists under the key. It is a non-counting probe: it neither bumps the item's
// recency nor the hit/miss counters, but it does perform the same lazy expiration as Get.
func (c *Cache[V]) Has(key string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	n, exists := c.items[key]
	if !exists {
		return false
	}
	if n.it.expired(time.Now()) {
		c.unlink(n)
		c.counters.expirations.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventExpiration).Inc()
		return false
	}
	return true
}

// Delete removes the item stored under a key and reports whether anything was removed. It is idempotent.
func (c *Cache[V]) Delete(key string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	n, exists := c.items[key]
	if !exists {
		return false
	}
	c.unlink(n)
	return true
}

// unlink removes an item from every index and releases its accounted size. Callers must hold the mutex and are
// responsible for counting the removal as an eviction or expiration where applicable.
func (c *Cache[V]) unlink(n *lruNode[V]) {
	it := n.it
	delete(c.items, it.key)
	c.byContent.remove(it.contentHash, it.key)
	c.recency.remove(n)
	c.sizeBytes -= it.size
	if c.sizeBytes < 0 {
		utils.RaiseInvariant("cache", "negative_size_accounting",
			"Accounted size went negative after removing an item.", "cache", c.name, "key", it.key)
		c.sizeBytes = 0
	}
}

// Clear drops all in-memory state, including the statistics counters. Disk state is left alone until the next
// flush rewrites it.
func (c *Cache[V]) Clear() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.clearLocked()
}

func (c *Cache[V]) clearLocked() {
	c.items = make(map[string]*lruNode[V])
	c.byContent.clear()
	c.recency = lruList[V]{}
	c.sizeBytes = 0
	c.counters.reset()
}

// Len returns the number of items currently stored, including not-yet-collected expired ones.
func (c *Cache[V]) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.items)
}

// SizeBytes returns the accounted size of all stored items.
func (c *Cache[V]) SizeBytes() int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.sizeBytes
}

// Keys yields the keys of all live items. Each call snapshots the cache, so iteration is restartable and never
// observes items expired at snapshot time.
func (c *Cache[V]) Keys() iter.Seq[string] {
	keys, _ := c.snapshotEntries()
	return func(yield func(string) bool) {
		for _, key := range keys {
			if !yield(key) {
				return
			}
		}
	}
}

// Values yields the values of all live items from a fresh snapshot.
func (c *Cache[V]) Values() iter.Seq[V] {
	_, values := c.snapshotEntries()
	return func(yield func(V) bool) {
		for _, value := range values {
			if !yield(value) {
				return
			}
		}
	}
}

// Entries yields the key-value pairs of all live items from a fresh snapshot.
func (c *Cache[V]) Entries() iter.Seq2[string, V] {
	keys, values := c.snapshotEntries()
	return func(yield func(string, V) bool) {
		for i, key := range keys {
			if !yield(key, values[i]) {
				return
			}
		}
	}
}

// snapshotEntries collects the unexpired key-value pairs under the mutex.
func (c *Cache[V]) snapshotEntries() ([]string, []V) {
	now := time.Now()
	c.mux.Lock()
	defer c.mux.Unlock()

	keys := make([]string, 0, len(c.items))
	values := make([]V, 0, len(c.items))
	for key, n := range c.items {
		if n.it.expired(now) {
			continue
		}
		keys = append(keys, key)
		values = append(values, n.it.value)
	}
	return keys, values
}

// Stats returns the summary statistics of the cache.
func (c *Cache[V]) Stats() Stats {
	c.mux.Lock()
	entries := len(c.items)
	sizeBytes := c.sizeBytes
	c.mux.Unlock()

	stats := Stats{
		Entries:     entries,
		SizeBytes:   sizeBytes,
		Hits:        c.counters.hits.Load(),
		Misses:      c.counters.misses.Load(),
		Evictions:   c.counters.evictions.Load(),
		Expirations: c.counters.expirations.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
		stats.MissRate = float64(stats.Misses) / float64(total)
	}
	return stats
}

// topHitsLimit caps the number of items reported by DetailedStats.
const topHitsLimit = 10

// DetailedStats returns the summary statistics plus the most requested items and the age/size distributions of
// the live items, computed on demand.
func (c *Cache[V]) DetailedStats() DetailedStats {
	stats := DetailedStats{
		Stats:         c.Stats(),
		AgeHistogram:  make(map[string]int),
		SizeHistogram: make(map[string]int),
	}
	now := time.Now()

	c.mux.Lock()
	perItem := make([]ItemStats, 0, len(c.items))
	for _, n := range c.items {
		it := n.it
		if it.expired(now) {
			continue
		}
		perItem = append(perItem, ItemStats{Key: it.key, Hits: it.hits, Size: it.size, Age: now.Sub(it.createdAt)})
	}
	c.mux.Unlock()

	for _, it := range perItem {
		stats.AgeHistogram[ageBucket(it.Age)]++
		stats.SizeHistogram[sizeBucket(it.Size)]++
	}
	sort.Slice(perItem, func(i, j int) bool {
		if perItem[i].Hits != perItem[j].Hits {
			return perItem[i].Hits > perItem[j].Hits
		}
		return perItem[i].Key < perItem[j].Key
	})
	if len(perItem) > topHitsLimit {
		perItem = perItem[:topHitsLimit]
	}
	stats.TopHits = perItem
	return stats
}

// sweep removes every item whose TTL has elapsed at the given instant and returns how many were removed. It is
// the proactive complement to the lazy expiration in Get: it reclaims space held by keys nobody reads anymore.
func (c *Cache[V]) sweep(now time.Time) int {
	c.mux.Lock()
	defer c.mux.Unlock()

	var expired []*lruNode[V]
	for _, n := range c.items {
		if n.it.expired(now) {
			expired = append(expired, n)
		}
	}
	for _, n := range expired {
		c.unlink(n)
		c.counters.expirations.Add(1)
		cacheEventsMetric.WithLabelValues(c.name, eventExpiration).Inc()
	}
	return len(expired)
}

// sweepLoop runs the periodic expiration sweep until shutdown.
func (c *Cache[V]) sweepLoop(ctx context.Context) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.conf.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if swept := c.sweep(time.Now()); swept > 0 {
				slog.Debug("Expiration sweep reclaimed items.", "cache", c.name, "swept", swept)
			}
		}
	}
}

// persistLoop periodically flushes the cache state to disk until shutdown. A failed cycle is logged and abandoned;
// the next tick retries.
func (c *Cache[V]) persistLoop(ctx context.Context) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.conf.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				slog.Error("Periodic persistence flush failed.", "cache", c.name, "error", err)
			}
		}
	}
}

// Flush writes the current state to disk: one blob per distinct content hash referenced by a live item, then the
// manifest. Expired items are never persisted. The live set is snapshotted under the mutex and the I/O happens
// outside it, so concurrent reads and writes proceed while the flush runs. Flush is a no-op when persistence is
// disabled.
func (c *Cache[V]) Flush() error {
	if c.store == nil {
		return nil
	}
	now := time.Now()

	c.mux.Lock()
	entries := make([]persist.Entry, 0, len(c.items))
	payloads := make(map[string][]byte, c.byContent.distinct())
	for _, n := range c.items {
		it := n.it
		if it.expired(now) {
			continue
		}
		entries = append(entries, persist.Entry{
			Key:         it.key,
			ContentHash: it.contentHash,
			Size:        it.size,
			CreatedAt:   it.createdAt,
			ExpiresAt:   it.expiresAt,
			Hits:        it.hits,
			Metadata:    it.metadata,
		})
		payloads[it.contentHash] = it.payload
	}
	c.mux.Unlock()

	return c.store.Flush(entries, payloads)
}

// loadPersisted seeds the cache from the state a previous instance flushed to the same directory. Individual
// entries that fail to decode or whose payload does not match their recorded content hash are skipped.
func (c *Cache[V]) loadPersisted() {
	records, err := c.store.Load(time.Now())
	if err != nil {
		slog.Error("Failed to load persisted cache state, starting empty.", "cache", c.name, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	// Restore recency order as well as we can: lastAccessed is not persisted, so creation order stands in for it.
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	c.mux.Lock()
	defer c.mux.Unlock()
	loaded := 0
	for _, record := range records {
		if Digest(record.Payload) != record.ContentHash {
			slog.Warn("Skipping persisted entry whose blob does not match its content hash.",
				"cache", c.name, "key", record.Key, "contentHash", record.ContentHash)
			continue
		}
		var value V
		if err := decodePayload(record.Payload, &value); err != nil {
			slog.Warn("Skipping persisted entry with undecodable payload.",
				"cache", c.name, "key", record.Key, "error", err)
			continue
		}
		if record.Size > c.conf.MaxSizeBytes {
			continue // Persisted by an instance with a larger budget; cannot fit here.
		}
		it := &item[V]{
			key:          record.Key,
			contentHash:  record.ContentHash,
			value:        value,
			payload:      record.Payload,
			size:         record.Size,
			createdAt:    record.CreatedAt,
			expiresAt:    record.ExpiresAt,
			lastAccessed: record.CreatedAt,
			hits:         record.Hits,
			metadata:     record.Metadata,
			tokens:       newTokenFilter(record.Metadata),
		}
		if n, exists := c.items[record.Key]; exists { // Duplicate manifest entries: last one wins.
			c.unlink(n)
		}
		for c.sizeBytes+it.size > c.conf.MaxSizeBytes || len(c.items)+1 > c.conf.MaxEntries {
			victim := c.recency.back()
			if victim == nil {
				break
			}
			c.unlink(victim)
		}
		c.items[record.Key] = c.recency.pushFront(it)
		c.byContent.add(it.contentHash, it.key)
		c.sizeBytes += it.size
		loaded++
	}
	slog.Info("Loaded persisted cache state.", "cache", c.name, "entries", loaded, "sizeBytes", c.sizeBytes)
}

// Shutdown stops the background loops, performs one final synchronous flush and drops all in-memory state. It is
// the sanctioned way to tear a cache down; calling it more than once is harmless.
func (c *Cache[V]) Shutdown() error {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return nil
	}
	c.closed = true
	c.mux.Unlock()

	close(c.stop)
	c.loops.Wait()

	flushErr := c.Flush()
	c.Clear()
	return flushErr
}
