// Package pkg provides the core libraries for the ToolHarbor harvester.
//
// # Overview
//
// ToolHarbor ingests tool-server packages from heterogeneous sources,
// statically analyzes their code, scores them, and persists a unified
// catalog. The pkg directory is organized around that pipeline:
//
//  1. [adapters] - Channel adapters (GitHub, npm registry, OCI registries,
//     live JSON-RPC endpoints) producing a normalized artifact shape
//  2. [depgraph] - Manifest parsing into declared dependency edges
//  3. [analysis] - Static source inspection for risky behavior
//  4. [scoring] - Deterministic health scoring and risk escalation
//  5. [orchestrator] - Checkpointed pipeline execution and the worker pool
//  6. [store] / [checkpoint] - Catalog and queue persistence (memory, Mongo)
//  7. [server] - Read-only HTTP status surface
//
// # Architecture
//
// The typical data flow for one target:
//
//	Target (URL, package name, image ref, endpoint)
//	         ↓
//	    [adapters] Fetch + Parse (via the shared [fetch] client)
//	         ↓
//	    [depgraph] Extract ∥ [analysis] Analyze
//	         ↓
//	    [scoring] EscalateRisk + HealthScore
//	         ↓
//	    [store] SavePackage, [checkpoint] MarkCompleted
//
// Supporting packages: [catalog] holds the shared domain types, [errors]
// the failure taxonomy driving retry and skip decisions, [cache] the
// response cache backends, [httputil] backoff and retry, [config] TOML
// configuration, and [observability] process-wide instrumentation hooks.
//
// [adapters]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/adapters
// [depgraph]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/depgraph
// [analysis]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/analysis
// [scoring]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/scoring
// [orchestrator]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/orchestrator
// [store]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/store
// [checkpoint]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/checkpoint
// [server]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/server
// [fetch]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/fetch
// [catalog]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/catalog
// [errors]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/errors
// [cache]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/cache
// [httputil]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/httputil
// [config]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/config
// [observability]: https://pkg.go.dev/github.com/toolharbor/toolharbor/pkg/observability
package pkg
