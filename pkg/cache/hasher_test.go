package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_MapKeyOrderIsStable(t *testing.T) {
	// Go's JSON encoder sorts map keys, so logically equal maps must canonicalize to equal bytes.
	first, err := canonicalize(map[string]int{"alpha": 1, "beta": 2, "gamma": 3})
	require.NoError(t, err)
	second, err := canonicalize(map[string]int{"gamma": 3, "alpha": 1, "beta": 2})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, Digest(first), Digest(second))
}

func TestCanonicalize_RejectsUnserializableValues(t *testing.T) {
	_, err := canonicalize(func() {})
	assert.Error(t, err)
}

func TestDigest_Format(t *testing.T) {
	digest := Digest([]byte("payload"))
	assert.Len(t, digest, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", digest)

	// Different payloads must produce different digests; the same payload always the same one.
	assert.NotEqual(t, digest, Digest([]byte("other payload")))
	assert.Equal(t, digest, Digest([]byte("payload")))
}

func TestDecodePayload_RoundTrip(t *testing.T) {
	type record struct {
		Name  string
		Count int
	}
	payload, err := canonicalize(record{Name: "casket", Count: 3})
	require.NoError(t, err)

	var decoded record
	require.NoError(t, decodePayload(payload, &decoded))
	assert.Equal(t, record{Name: "casket", Count: 3}, decoded)
}
