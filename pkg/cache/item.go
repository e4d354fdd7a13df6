package cache

import (
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// item is the unit of storage. Items are created by Set, mutated in place only for lastAccessed/hits on reads,
// and removed by Delete, eviction or expiration. Re-setting a key replaces its item wholesale.
type item[V any] struct {
	key         string
	contentHash string
	value       V
	// payload holds the canonical serialization of value. Deduplicated items share the same backing slice, and
	// the persistence flush writes it out as the blob for contentHash.
	payload      []byte
	size         int64
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	hits         int64
	metadata     string
	// tokens is a bloom filter over the metadata tokens, nil when there is no metadata. FindSimilar uses it to
	// skip items that cannot possibly overlap with a query before computing the exact score.
	tokens *bloom.BloomFilter
}

// expired reports whether the item's TTL has elapsed at the given instant.
func (it *item[V]) expired(now time.Time) bool {
	return now.After(it.expiresAt)
}
