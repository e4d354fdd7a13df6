// Casket mirrors each cache instance to a directory on disk so a restarted process can warm up from the previous
// state. The layout is a single manifest file listing every live item's metadata (never its value) plus one blob
// file per distinct content hash holding the canonical serialization of the value. Because blobs are keyed by
// content hash, every set of keys that dedup to the same payload shares a single blob.
//
// The directory is owned exclusively by one cache instance; two processes flushing into the same directory is
// undefined behavior.

package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	manifestName = "manifest.json"
	blobsDirName = "blobs"
	blobExt      = ".blob"
)

// Entry is the persisted projection of a single cache item. The value itself is never part of the manifest; it
// lives in the blob file named after ContentHash.
type Entry struct {
	Key         string    `json:"key"`
	ContentHash string    `json:"contentHash"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Hits        int64     `json:"hits"`
	Metadata    string    `json:"metadata,omitempty"`
}

// manifest is the on-disk index of a cache instance.
type manifest struct {
	SavedAt time.Time `json:"savedAt"`
	Entries []Entry   `json:"entries"`
}

// Record pairs a manifest entry with the payload bytes read from its blob.
type Record struct {
	Entry
	Payload []byte
}

// Store reads and writes the manifest and blob files of one cache directory.
type Store struct {
	dir string
}

// Open prepares the given directory for use, creating it and the blobs subdirectory when missing.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("expected a non-empty persistence directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, blobsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory this store operates on.
func (s *Store) Dir() string {
	return s.dir
}

// ManifestPath returns the path of the manifest file.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.dir, manifestName)
}

// BlobPath returns the path of the blob file for a content hash.
func (s *Store) BlobPath(contentHash string) string {
	return filepath.Join(s.dir, blobsDirName, contentHash+blobExt)
}

// Load reads the manifest and the blob of every still-unexpired entry. Entries whose blob is missing or unreadable
// are skipped with a warning; a single bad entry never aborts the load. A missing manifest yields no records and
// no error, since a fresh directory is a normal state.
func (s *Store) Load(now time.Time) ([]Record, error) {
	manifestBytes, err := os.ReadFile(s.ManifestPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	records := make([]Record, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if now.After(entry.ExpiresAt) { // Persisted state may outlive its items; drop them on the floor here.
			continue
		}
		payload, err := os.ReadFile(s.BlobPath(entry.ContentHash))
		if err != nil {
			slog.Warn("Skipping persisted entry with unreadable blob.",
				"key", entry.Key, "contentHash", entry.ContentHash, "error", err)
			continue
		}
		records = append(records, Record{Entry: entry, Payload: payload})
	}
	return records, nil
}

// Flush writes one blob per distinct content hash, then the manifest, and finally removes orphaned blobs that are
// no longer referenced by any entry. Orphan removal is best-effort; its failures are logged, not returned.
func (s *Store) Flush(entries []Entry, payloads map[string][]byte) error {
	for contentHash, payload := range payloads {
		if err := s.writeBlob(contentHash, payload); err != nil {
			return fmt.Errorf("failed to write blob %s: %w", contentHash, err)
		}
	}
	if err := s.writeManifest(entries); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	s.removeOrphanBlobs(entries)
	return nil
}

// writeBlob stores the payload under its content hash. Blobs are immutable once written: identical content hashes
// carry identical bytes, so an existing file is left alone.
func (s *Store) writeBlob(contentHash string, payload []byte) error {
	path := s.BlobPath(contentHash)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// writeManifest writes the manifest atomically: a temp file in the same directory is renamed over the old
// manifest, so a crash mid-write leaves the previous manifest intact.
func (s *Store) writeManifest(entries []Entry) error {
	manifestBytes, err := json.Marshal(manifest{SavedAt: time.Now(), Entries: entries})
	if err != nil {
		return err
	}
	tmpPath := s.ManifestPath() + ".tmp"
	if err := os.WriteFile(tmpPath, manifestBytes, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.ManifestPath())
}

// removeOrphanBlobs deletes every blob file whose content hash is not referenced by the given entries.
func (s *Store) removeOrphanBlobs(entries []Entry) {
	referenced := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		referenced[entry.ContentHash] = struct{}{}
	}

	blobsDir := filepath.Join(s.dir, blobsDirName)
	dirEntries, err := os.ReadDir(blobsDir)
	if err != nil {
		slog.Error("Failed to list blobs directory for orphan cleanup.", "dir", blobsDir, "error", err)
		return
	}
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}
		contentHash := strings.TrimSuffix(name, blobExt)
		if _, isReferenced := referenced[contentHash]; isReferenced {
			continue
		}
		if err := os.Remove(filepath.Join(blobsDir, name)); err != nil {
			slog.Error("Failed to remove orphan blob.", "blob", name, "error", err)
		}
	}
}
