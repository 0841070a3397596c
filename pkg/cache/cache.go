// Package cache provides the response cache shared by the fetch client.
//
// The cache stores raw bytes keyed by hashed strings. Three backends are
// provided: a file cache for single-process runs, a Redis cache for
// deployments with more than one harvester process, and a null cache that
// disables caching entirely.
package cache

import (
	"context"
	"time"
)

// Default TTLs for cached ingestion data.
const (
	// TTLRegistry is the lifetime of registry/API responses.
	TTLRegistry = 6 * time.Hour

	// TTLArtifact is the lifetime of downloaded artifact contents.
	TTLArtifact = 24 * time.Hour
)

// Cache stores raw bytes with optional expiration.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. The second return reports whether the key was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL. A TTL of zero means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
