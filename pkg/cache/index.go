package cache

import "maps"

// contentIndex maps content hashes to the live keys holding that content. Several keys may dedup to one hash;
// lookups by content resolve to the key most recently associated with it. The index is only ever mutated together
// with the item store under the cache mutex, which is what keeps the two consistent: every stored item's hash
// resolves to some live key sharing that hash.
type contentIndex struct {
	current map[string]string              // Content hash to the key lookups resolve to.
	keys    map[string]map[string]struct{} // Content hash to every live key sharing it.
}

func newContentIndex() *contentIndex {
	return &contentIndex{
		current: make(map[string]string),
		keys:    make(map[string]map[string]struct{}),
	}
}

// add registers a key under a content hash and makes it the one lookups resolve to.
func (ci *contentIndex) add(contentHash, key string) {
	if _, exists := ci.keys[contentHash]; !exists {
		ci.keys[contentHash] = make(map[string]struct{})
	}
	ci.keys[contentHash][key] = struct{}{}
	ci.current[contentHash] = key
}

// remove unregisters a key from a content hash. When the removed key was the resolution target and other keys
// still share the hash, the smallest remaining key takes over, so resolution stays deterministic.
func (ci *contentIndex) remove(contentHash, key string) {
	keys, exists := ci.keys[contentHash]
	if !exists {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(ci.keys, contentHash)
		delete(ci.current, contentHash)
		return
	}
	if ci.current[contentHash] != key {
		return
	}
	var successor string
	for k := range keys {
		if successor == "" || k < successor {
			successor = k
		}
	}
	ci.current[contentHash] = successor
}

// resolve returns the key a content hash currently points at.
func (ci *contentIndex) resolve(contentHash string) (string, bool) {
	key, found := ci.current[contentHash]
	return key, found
}

// distinct returns the number of distinct content hashes currently indexed.
func (ci *contentIndex) distinct() int {
	return len(ci.current)
}

// clear drops all index state.
func (ci *contentIndex) clear() {
	maps.DeleteFunc(ci.current, func(string, string) bool { return true })
	maps.DeleteFunc(ci.keys, func(string, map[string]struct{}) bool { return true })
}
