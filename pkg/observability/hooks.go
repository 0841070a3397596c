// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Consumers register
// hooks at startup to receive events about ingestion runs, network
// fetches, and cache operations.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach avoids import cycles (hooks are registered by main, not
// by libraries) and keeps the core free of observability frameworks.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetIngestHooks(&myIngestHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Ingest().OnClaim(ctx, id, worker)
//	// ... run the pipeline ...
//	observability.Ingest().OnComplete(ctx, id, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// IngestHooks receives events from the ingestion orchestrator.
type IngestHooks interface {
	// OnClaim records a successful checkpoint claim.
	OnClaim(ctx context.Context, canonicalID, worker string)

	// OnTransition records a checkpoint state transition.
	OnTransition(ctx context.Context, canonicalID, from, to string)

	// OnComplete records the end of a pipeline run for one target.
	OnComplete(ctx context.Context, canonicalID string, duration time.Duration, err error)

	// OnPersist records a package upsert.
	OnPersist(ctx context.Context, canonicalID string, capabilities, dependencies int)
}

// FetchHooks receives events from the shared fetch client.
type FetchHooks interface {
	// OnRequest records one outbound HTTP request.
	OnRequest(ctx context.Context, method, host string, duration time.Duration, err error)

	// OnCacheHit records a response-cache hit.
	OnCacheHit(ctx context.Context, key string)

	// OnCacheMiss records a response-cache miss.
	OnCacheMiss(ctx context.Context, key string)
}

// noopIngestHooks is the default IngestHooks implementation.
type noopIngestHooks struct{}

func (noopIngestHooks) OnClaim(context.Context, string, string)                        {}
func (noopIngestHooks) OnTransition(context.Context, string, string, string)           {}
func (noopIngestHooks) OnComplete(context.Context, string, time.Duration, error)       {}
func (noopIngestHooks) OnPersist(context.Context, string, int, int)                    {}

// noopFetchHooks is the default FetchHooks implementation.
type noopFetchHooks struct{}

func (noopFetchHooks) OnRequest(context.Context, string, string, time.Duration, error) {}
func (noopFetchHooks) OnCacheHit(context.Context, string)                              {}
func (noopFetchHooks) OnCacheMiss(context.Context, string)                             {}

var (
	mu          sync.RWMutex
	ingestHooks IngestHooks = noopIngestHooks{}
	fetchHooks  FetchHooks  = noopFetchHooks{}
)

// SetIngestHooks registers custom ingestion hooks. Pass nil to restore no-ops.
func SetIngestHooks(h IngestHooks) {
	mu.Lock()
	defer mu.Unlock()
	if h == nil {
		ingestHooks = noopIngestHooks{}
		return
	}
	ingestHooks = h
}

// SetFetchHooks registers custom fetch hooks. Pass nil to restore no-ops.
func SetFetchHooks(h FetchHooks) {
	mu.Lock()
	defer mu.Unlock()
	if h == nil {
		fetchHooks = noopFetchHooks{}
		return
	}
	fetchHooks = h
}

// Ingest returns the registered ingestion hooks.
func Ingest() IngestHooks {
	mu.RLock()
	defer mu.RUnlock()
	return ingestHooks
}

// Fetch returns the registered fetch hooks.
func Fetch() FetchHooks {
	mu.RLock()
	defer mu.RUnlock()
	return fetchHooks
}
