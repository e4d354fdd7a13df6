package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentIndex_AddResolvesToLatestKey(t *testing.T) {
	ci := newContentIndex()
	ci.add("hash-1", "first")
	ci.add("hash-1", "second")

	key, found := ci.resolve("hash-1")
	assert.True(t, found)
	assert.Equal(t, "second", key, "Resolution must follow the most recently associated key")
	assert.Equal(t, 1, ci.distinct())
}

func TestContentIndex_RemoveRepointsDeterministically(t *testing.T) {
	ci := newContentIndex()
	ci.add("hash-1", "bravo")
	ci.add("hash-1", "alpha")
	ci.add("hash-1", "charlie")

	// "charlie" is current; removing it must repoint to the smallest surviving key.
	ci.remove("hash-1", "charlie")
	key, found := ci.resolve("hash-1")
	assert.True(t, found)
	assert.Equal(t, "alpha", key)

	// Removing a non-current key leaves resolution alone.
	ci.remove("hash-1", "bravo")
	key, found = ci.resolve("hash-1")
	assert.True(t, found)
	assert.Equal(t, "alpha", key)

	ci.remove("hash-1", "alpha")
	_, found = ci.resolve("hash-1")
	assert.False(t, found, "A hash with no live keys must not resolve")
	assert.Zero(t, ci.distinct())
}

func TestContentIndex_RemoveUnknownIsHarmless(t *testing.T) {
	ci := newContentIndex()
	ci.remove("hash-1", "ghost")
	_, found := ci.resolve("hash-1")
	assert.False(t, found)
}
