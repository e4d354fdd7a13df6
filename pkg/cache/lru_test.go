package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keysBackToFront collects item keys from the least to the most recently used.
func keysBackToFront(l *lruList[string]) []string {
	var keys []string
	for n := l.tail; n != nil; n = n.prev {
		keys = append(keys, n.it.key)
	}
	return keys
}

func TestLRUList_PushFrontOrder(t *testing.T) {
	l := &lruList[string]{}
	for _, key := range []string{"a", "b", "c"} {
		l.pushFront(&item[string]{key: key})
	}
	assert.Equal(t, 3, l.len())
	assert.Equal(t, []string{"a", "b", "c"}, keysBackToFront(l))
	assert.Equal(t, "a", l.back().it.key, "The first inserted item is the eviction victim")
}

func TestLRUList_MoveToFront(t *testing.T) {
	l := &lruList[string]{}
	a := l.pushFront(&item[string]{key: "a"})
	l.pushFront(&item[string]{key: "b"})
	l.pushFront(&item[string]{key: "c"})

	l.moveToFront(a)
	assert.Equal(t, []string{"b", "c", "a"}, keysBackToFront(l))
	assert.Equal(t, "b", l.back().it.key)

	// Moving the head is a no-op.
	l.moveToFront(a)
	assert.Equal(t, []string{"b", "c", "a"}, keysBackToFront(l))
	assert.Equal(t, 3, l.len())
}

func TestLRUList_Remove(t *testing.T) {
	l := &lruList[string]{}
	a := l.pushFront(&item[string]{key: "a"})
	b := l.pushFront(&item[string]{key: "b"})
	c := l.pushFront(&item[string]{key: "c"})

	l.remove(b) // Middle node.
	assert.Equal(t, []string{"a", "c"}, keysBackToFront(l))

	l.remove(a) // Tail node.
	require.NotNil(t, l.back())
	assert.Equal(t, "c", l.back().it.key)

	l.remove(c) // Last node.
	assert.Nil(t, l.back())
	assert.Zero(t, l.len())
}
