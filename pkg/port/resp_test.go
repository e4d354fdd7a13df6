package port

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casketcache/casket/pkg/registry"
)

func newTestHandler(t *testing.T) *handler {
	t.Helper()
	caches := registry.New[string](context.Background(), registry.Config{})
	t.Cleanup(func() { _ = caches.ShutdownAll() })
	h, err := newHandler(caches)
	require.NoError(t, err)
	return h
}

func TestHandler_Ping(t *testing.T) {
	h := newTestHandler(t)
	out := h.handle(command{name: "PING"})
	require.NotNil(t, out.writeString)
	assert.Equal(t, "PONG", *out.writeString)
}

func TestHandler_Quit(t *testing.T) {
	h := newTestHandler(t)
	out := h.handle(command{name: "QUIT"})
	assert.True(t, out.closeConnection)
}

func TestHandler_SetAndGet(t *testing.T) {
	h := newTestHandler(t)

	out := h.handle(command{name: "SET", args: []string{"images", "thumb-1", "payload"}})
	require.NotNil(t, out.writeString)
	assert.Equal(t, "OK", *out.writeString)

	out = h.handle(command{name: "GET", args: []string{"images", "thumb-1"}})
	require.NotNil(t, out.writeString)
	assert.Equal(t, "payload", *out.writeString)

	t.Run("missing key writes nil", func(t *testing.T) {
		out := h.handle(command{name: "GET", args: []string{"images", "missing"}})
		assert.True(t, out.writeNil)
	})
	t.Run("set with ttl", func(t *testing.T) {
		out := h.handle(command{name: "SET", args: []string{"images", "thumb-2", "payload", "60"}})
		require.NotNil(t, out.writeString)
		assert.Equal(t, "OK", *out.writeString)
	})
	t.Run("set with bad ttl", func(t *testing.T) {
		out := h.handle(command{name: "SET", args: []string{"images", "thumb-3", "payload", "soon"}})
		assert.NotNil(t, out.err)
	})
}

func TestHandler_DelAndExists(t *testing.T) {
	h := newTestHandler(t)
	h.handle(command{name: "SET", args: []string{"code", "a", "1"}})
	h.handle(command{name: "SET", args: []string{"code", "b", "2"}})

	out := h.handle(command{name: "EXISTS", args: []string{"code", "a"}})
	require.NotNil(t, out.writeInt)
	assert.Equal(t, 1, *out.writeInt)

	out = h.handle(command{name: "DEL", args: []string{"code", "a", "b", "ghost"}})
	require.NotNil(t, out.writeInt)
	assert.Equal(t, 2, *out.writeInt)

	out = h.handle(command{name: "EXISTS", args: []string{"code", "a"}})
	require.NotNil(t, out.writeInt)
	assert.Equal(t, 0, *out.writeInt)
}

func TestHandler_Keys(t *testing.T) {
	h := newTestHandler(t)
	h.handle(command{name: "SET", args: []string{"analysis", "x", "1"}})
	h.handle(command{name: "SET", args: []string{"analysis", "y", "2"}})

	out := h.handle(command{name: "KEYS", args: []string{"analysis"}})
	assert.ElementsMatch(t, []string{"x", "y"}, out.writeBulk)
}

func TestHandler_Stats(t *testing.T) {
	h := newTestHandler(t)
	h.handle(command{name: "SET", args: []string{"images", "k", "v"}})
	h.handle(command{name: "GET", args: []string{"images", "k"}})

	out := h.handle(command{name: "STATS", args: []string{"images"}})
	require.NotEmpty(t, out.writeBulk)
	assert.Contains(t, out.writeBulk, "entries:1")
	assert.Contains(t, out.writeBulk, "hits:1")
}

func TestHandler_Similar(t *testing.T) {
	h := newTestHandler(t)
	// The RESP surface has no metadata argument, so SIMILAR over plain sets yields no matches;
	// the command must still parse and answer with an empty array.
	out := h.handle(command{name: "SIMILAR", args: []string{"images", "0.5", "render", "login", "page"}})
	assert.NotNil(t, out.writeBulk)
	assert.Empty(t, out.writeBulk)

	t.Run("bad threshold", func(t *testing.T) {
		out := h.handle(command{name: "SIMILAR", args: []string{"images", "high", "query"}})
		assert.NotNil(t, out.err)
	})
}

func TestHandler_ArgumentValidation(t *testing.T) {
	h := newTestHandler(t)
	for _, cmd := range []command{
		{name: "SET", args: []string{"images"}},
		{name: "GET", args: []string{"images"}},
		{name: "DEL", args: []string{"images"}},
		{name: "EXISTS", args: []string{"images", "a", "b"}},
		{name: "STATS", args: nil},
		{name: "SIMILAR", args: []string{"images", "0.5"}},
		{name: "BOGUS", args: nil},
	} {
		out := h.handle(cmd)
		assert.NotNil(t, out.err, "Command %s with %d args must be rejected", cmd.name, len(cmd.args))
	}
}
