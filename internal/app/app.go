// Package app provides the unified application lifecycle management for Lumen.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	httpapi "github.com/lumenapm/lumen/internal/api/http"
	"github.com/lumenapm/lumen/internal/cache"
	"github.com/lumenapm/lumen/internal/catalog"
	"github.com/lumenapm/lumen/internal/config"
	"github.com/lumenapm/lumen/internal/index"
	"github.com/lumenapm/lumen/internal/metrics"
	"github.com/lumenapm/lumen/internal/metrics/indexer"
	"github.com/lumenapm/lumen/internal/observability"
	"github.com/lumenapm/lumen/internal/server"
	"github.com/lumenapm/lumen/internal/storage"
	"github.com/lumenapm/lumen/internal/thresholds"
)

// App manages all Lumen service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	storage      storage.ObjectStorage
	catalog      catalog.Catalog
	thresholds   *thresholds.SQLiteStore
	tagStore     *indexer.Store
	archiveCache *cache.ArchiveCache
	stats        *observability.LookupStats
	shutdown     *server.ShutdownManager

	// Service components
	indexer    *index.Indexer
	lookup     *index.Lookup
	builder    *metrics.Builder
	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg: cfg,
	}, nil
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.ShouldRunServe() {
		if err := a.startHTTPService(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start http service: %w", err)
		}
	}

	if a.cfg.ShouldRunJanitor() {
		a.startJanitor(ctx)
	}

	log.Printf("Lumen started in %s mode", a.cfg.Mode)
	return nil
}

// initSharedResources initializes storage, the catalog, the threshold and
// indexer stores, and the shutdown manager.
func (a *App) initSharedResources() error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(
			context.Background(),
			a.cfg.Storage.S3.Bucket,
			storage.S3Config{
				Region:       a.cfg.Storage.S3.Region,
				Endpoint:     a.cfg.Storage.S3.Endpoint,
				UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
			},
		)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)

	cat, err := catalog.NewCatalog(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to initialize bundle catalog: %w", err)
	}
	a.catalog = cat
	log.Printf("Bundle catalog initialized: %s", a.cfg.CatalogPath())

	a.thresholds, err = thresholds.NewStore(a.cfg.ThresholdsPath())
	if err != nil {
		return fmt.Errorf("failed to initialize threshold store: %w", err)
	}

	a.tagStore, err = indexer.NewStore(a.cfg.IndexerPath(), a.cfg.Metrics.TagValuesAreStrings)
	if err != nil {
		return fmt.Errorf("failed to initialize string indexer: %w", err)
	}

	if a.cfg.Bundles.CacheMaxMB > 0 {
		a.archiveCache, err = cache.New(a.cfg.Bundles.CacheDir, int64(a.cfg.Bundles.CacheMaxMB)<<20)
		if err != nil {
			return fmt.Errorf("failed to initialize archive cache: %w", err)
		}
		log.Printf("Archive cache initialized: dir=%s, max=%dMB", a.cfg.Bundles.CacheDir, a.cfg.Bundles.CacheMaxMB)
	}

	a.stats = observability.NewLookupStats()
	a.indexer = index.NewIndexer(a.catalog, a.storage, a.cfg.Bundles.WorkDir)
	a.lookup = index.NewLookup(a.catalog, a.storage, a.cfg.Bundles.WorkDir, a.archiveCache, a.stats)

	resolver := metrics.NewThresholdResolver(a.thresholds, a.tagStore)
	a.builder = metrics.NewBuilder(a.tagStore, resolver, a.cfg.Metrics.TagValuesAreStrings)

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{})
	a.shutdown.RegisterCloser(a.catalog)
	a.shutdown.RegisterCloser(a.thresholds)
	a.shutdown.RegisterCloser(a.tagStore)

	return nil
}

// startHTTPService starts the unified HTTP API server.
func (a *App) startHTTPService() error {
	maxUploadSize := int64(a.cfg.HTTP.MaxUploadSizeMB) << 20

	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux.Handle("/v1/bundles", middleware(httpapi.NewUploadHandler(a.indexer, maxUploadSize)))
	mux.Handle("/v1/bundles/search", middleware(httpapi.NewSearchHandler(a.lookup)))
	mux.Handle("/v1/artifacts", middleware(httpapi.NewArtifactHandler(a.lookup)))
	mux.Handle("/v1/metrics/expression", middleware(httpapi.NewExpressionHandler(a.builder)))
	mux.Handle("/v1/thresholds", middleware(httpapi.NewThresholdHandler(a.thresholds)))
	mux.Handle("/v1/stats/lookups", middleware(httpapi.NewStatsHandler(a.stats)))
	mux.HandleFunc("/health", a.healthHandler("lumen"))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// startJanitor runs periodic expiry sweeps: unrenewed bundles past their
// TTL are removed from the catalog, storage, and the lookup stats window.
func (a *App) startJanitor(ctx context.Context) {
	interval := a.cfg.Bundles.JanitorInterval
	ttl := time.Duration(a.cfg.Bundles.TTLDays) * 24 * time.Hour

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("Janitor started: interval=%s, ttl=%s", interval, ttl)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runExpirySweep(ctx, ttl)
			}
		}
	}()
}

// runExpirySweep deletes expired bundles and their stored archives.
func (a *App) runExpirySweep(ctx context.Context, ttl time.Duration) {
	paths, err := a.catalog.DeleteExpired(ctx, ttl)
	if err != nil {
		log.Printf("Janitor: expiry sweep failed: %v", err)
		return
	}
	for _, objectPath := range paths {
		if err := a.storage.Delete(ctx, objectPath); err != nil {
			log.Printf("Janitor: failed to delete %s: %v", objectPath, err)
		}
		if a.archiveCache != nil {
			// Object paths end in <bundle id>.zip.
			a.archiveCache.Invalidate(strings.TrimSuffix(path.Base(objectPath), ".zip"))
		}
	}
	if pruned := a.stats.Prune(ttl); pruned > 0 {
		log.Printf("Janitor: pruned %d stale lookup stats", pruned)
	}
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()

	log.Printf("Lumen stopped")
	return nil
}

// cleanup releases all shared resources.
func (a *App) cleanup() {
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.thresholds != nil {
		a.thresholds.Close()
	}
	if a.tagStore != nil {
		a.tagStore.Close()
	}
}

// healthHandler returns a health check handler for the given service.
func (a *App) healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"%s","mode":"%s"}`, service, a.cfg.Mode)
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
