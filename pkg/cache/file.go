package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// FileCache keeps registry responses and artifact payloads on local disk.
// It suits a single harvester process: no external service, entries
// survive restarts, and a stale entry costs one extra fetch.
type FileCache struct {
	root string
}

// NewFileCache opens a file cache rooted at dir, creating it if needed.
func NewFileCache(dir string) (Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCache{root: dir}, nil
}

// fileEntry is the on-disk envelope around a cached payload. A zero
// deadline means the entry never expires.
type fileEntry struct {
	Payload  []byte    `json:"payload"`
	Deadline time.Time `json:"deadline"`
}

// Get returns the payload for key, treating expired or unreadable
// entries as misses and removing them.
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p := c.entryPath(key)

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Torn write or foreign file: discard and refetch.
		_ = os.Remove(p)
		return nil, false, nil
	}
	if !entry.Deadline.IsZero() && time.Now().After(entry.Deadline) {
		_ = os.Remove(p)
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// Set stores a payload under key. A TTL of zero keeps the entry until it
// is deleted.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	entry := fileEntry{Payload: data}
	if ttl > 0 {
		entry.Deadline = time.Now().Add(ttl)
	}
	blob, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	p := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	// Write-then-rename so a concurrent Get never sees a half-written
	// entry.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Delete removes the entry for key. Missing entries are not an error.
func (c *FileCache) Delete(ctx context.Context, key string) error {
	err := os.Remove(c.entryPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close implements Cache; the file cache holds no open handles.
func (c *FileCache) Close() error { return nil }

// entryPath maps a key to its file, sharded by the first hash byte so a
// long harvest run does not pile every entry into one directory.
func (c *FileCache) entryPath(key string) string {
	h := Hash([]byte(key))
	return filepath.Join(c.root, h[:2], h[2:]+".json")
}

// Ensure FileCache implements Cache.
var _ Cache = (*FileCache)(nil)
