// Values stored in a cache are opaque to Casket; the only thing it ever needs from them is a stable byte form.
// This module defines that canonical serialization and the content digest derived from it. Two values that
// serialize to the same bytes are the same content, no matter which keys they are stored under.

package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// canonicalize returns the canonical byte serialization of a value. JSON is canonical enough for our purposes:
// Go's encoder emits map keys in sorted order and struct fields in declaration order, so equal values produce
// equal bytes. The byte length of the result is the item's accounted size.
func canonicalize(value any) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return payload, nil
}

// Digest returns the content hash of a canonical payload as 16 hex characters. The digest doubles as the blob
// file name on disk, so it must stay stable across releases.
func Digest(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// decodePayload reverses canonicalize, decoding a persisted payload back into a value.
func decodePayload[V any](payload []byte, value *V) error {
	return json.Unmarshal(payload, value)
}
