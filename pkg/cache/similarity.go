// Best-effort lookup by token overlap. Items can carry a free-text metadata field (for example the prompt that
// produced the cached value); FindSimilar scores the token-set (Jaccard) overlap between a query and each item's
// metadata. A per-item bloom filter over the metadata tokens prunes items that cannot share a single token with
// the query before the exact score is computed.
//
// This is a convenience query, not a correctness path: absence of a match never implies the content is absent
// from the cache.

package cache

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFalsePositiveRate is the target false positive rate of the per-item token filters. False positives only
// cost an exact Jaccard computation, so a loose rate keeps the filters tiny.
const bloomFalsePositiveRate = 0.01

// Match is one FindSimilar result.
type Match[V any] struct {
	Key   string
	Value V
	Hits  int64
	Score float64
}

// tokenize lowercases the text and splits it on every non-alphanumeric rune, returning the distinct tokens.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tokens[field] = struct{}{}
	}
	return tokens
}

// newTokenFilter builds a bloom filter over the metadata tokens, or nil when there are none.
func newTokenFilter(metadata string) *bloom.BloomFilter {
	tokens := tokenize(metadata)
	if len(tokens) == 0 {
		return nil
	}
	filter := bloom.NewWithEstimates(uint(len(tokens)), bloomFalsePositiveRate)
	for token := range tokens {
		filter.AddString(token)
	}
	return filter
}

// jaccard returns |a ∩ b| / |a ∪ b| for two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(larger) < len(smaller) {
		smaller, larger = larger, smaller
	}
	intersection := 0
	for token := range smaller {
		if _, shared := larger[token]; shared {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// mayOverlap reports whether any query token may be present in the item's token filter.
func mayOverlap(filter *bloom.BloomFilter, queryTokens map[string]struct{}) bool {
	if filter == nil {
		return false
	}
	for token := range queryTokens {
		if filter.TestString(token) {
			return true
		}
	}
	return false
}

// FindSimilar returns every live item whose metadata token overlap with the query reaches the threshold, ordered
// by descending hit count. Items without metadata never match.
func (c *Cache[V]) FindSimilar(query string, threshold float64) []Match[V] {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	now := time.Now()

	c.mux.Lock()
	defer c.mux.Unlock()

	var matches []Match[V]
	for _, n := range c.items {
		it := n.it
		if it.expired(now) || !mayOverlap(it.tokens, queryTokens) {
			continue
		}
		score := jaccard(tokenize(it.metadata), queryTokens)
		if score < threshold {
			continue
		}
		matches = append(matches, Match[V]{Key: it.key, Value: it.value, Hits: it.hits, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Hits != matches[j].Hits {
			return matches[i].Hits > matches[j].Hits
		}
		return matches[i].Key < matches[j].Key // Stable order for equal hit counts.
	})
	return matches
}
