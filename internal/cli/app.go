package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/adapters/endpoint"
	"github.com/toolharbor/toolharbor/pkg/adapters/github"
	"github.com/toolharbor/toolharbor/pkg/adapters/npm"
	"github.com/toolharbor/toolharbor/pkg/adapters/oci"
	"github.com/toolharbor/toolharbor/pkg/cache"
	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/config"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
	"github.com/toolharbor/toolharbor/pkg/httputil"
	"github.com/toolharbor/toolharbor/pkg/orchestrator"
	"github.com/toolharbor/toolharbor/pkg/scoring"
	"github.com/toolharbor/toolharbor/pkg/store"
)

// app holds the wired harvester components for one command invocation.
// Without a configured Mongo URI both stores are in-memory, which only
// makes sense for single-shot runs where ingest and inspection happen in
// the same process.
type app struct {
	cfg          config.Config
	cache        cache.Cache
	fetch        *fetch.Client
	checkpoints  checkpoint.Store
	packages     store.Store
	orchestrator *orchestrator.Orchestrator

	mongo *mongo.Client // nil for in-memory stores
}

// newApp loads configuration and wires the pipeline components.
func newApp(ctx context.Context, configPath string, logger *log.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	c, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	fc := fetch.NewClient(c, fetch.Options{
		MaxOutbound:    cfg.Fetch.MaxOutbound,
		CallTimeout:    cfg.Fetch.CallTimeout.Std(),
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
		Burst:          cfg.Fetch.Burst,
		Headers:        fetch.NewDefaultHeaders(),
	})

	registry := adapters.NewRegistry(
		github.New(fc, cfg.GitHub.Token(), cfg.GitHub.OfficialOwners),
		npm.New(fc, cfg.Registry.UnpackCeilingBytes),
		oci.New(fc),
		endpoint.New(fc),
	)

	a := &app{cfg: cfg, cache: c, fetch: fc}
	if err := a.openStores(ctx, cfg.Store); err != nil {
		_ = c.Close()
		return nil, err
	}

	a.orchestrator = orchestrator.New(orchestrator.Orchestrator{
		Registry:    registry,
		Checkpoints: a.checkpoints,
		Store:       a.packages,
		Scorer:      scoring.New(cfg.Scoring.DangerousLibraries),
		Logger:      logger,
		Backoff: httputil.Backoff{
			Base:   cfg.Retry.BackoffBase.Std(),
			Cap:    cfg.Retry.BackoffCap.Std(),
			Jitter: cfg.Retry.JitterFraction,
		},
		MaxAttempts:     cfg.Retry.MaxAttempts,
		StaleClaimAfter: cfg.Checkpoint.StaleClaimAfter.Std(),
	})
	return a, nil
}

// openStores selects the persistence backend: Mongo when a URI is
// configured, otherwise in-memory.
func (a *app) openStores(ctx context.Context, cfg config.StoreConfig) error {
	if cfg.MongoURI == "" {
		a.checkpoints = checkpoint.NewMemoryStore()
		a.packages = store.NewMemoryStore()
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "connect to mongo")
	}
	db := client.Database(cfg.Database)

	cps, err := checkpoint.NewMongoStore(ctx, db)
	if err != nil {
		_ = client.Disconnect(ctx)
		return err
	}
	pkgs, err := store.NewMongoStore(ctx, client, db)
	if err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	a.mongo = client
	a.checkpoints = cps
	a.packages = pkgs
	return nil
}

// Close releases the app's resources.
func (a *app) Close(ctx context.Context) error {
	var firstErr error
	if err := a.checkpoints.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.packages.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// newCache builds the configured fetch-layer cache backend.
func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch {
	case cfg.Disabled:
		return cache.NewNullCache(), nil
	case cfg.RedisURL != "":
		return cache.NewRedisCache(ctx, cfg.RedisURL)
	default:
		dir := cfg.Dir
		if dir == "" {
			var err error
			dir, err = defaultCacheDir()
			if err != nil {
				return nil, err
			}
		}
		return cache.NewFileCache(dir)
	}
}

// defaultCacheDir returns the per-user cache directory for harbord.
func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "resolve user cache dir")
	}
	return filepath.Join(base, "toolharbor"), nil
}
