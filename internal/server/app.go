// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/api"
	"github.com/JakeFAU/review-insights/internal/clock/system"
	"github.com/JakeFAU/review-insights/internal/config"
	"github.com/JakeFAU/review-insights/internal/hash/sha256"
	"github.com/JakeFAU/review-insights/internal/ingest"
	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/metrics"
	"github.com/JakeFAU/review-insights/internal/normalize"
	"github.com/JakeFAU/review-insights/internal/playstore"
	"github.com/JakeFAU/review-insights/internal/report"
	"github.com/JakeFAU/review-insights/internal/review"
	gcsstorage "github.com/JakeFAU/review-insights/internal/storage/gcs"
	localstorage "github.com/JakeFAU/review-insights/internal/storage/local"
	memorystorage "github.com/JakeFAU/review-insights/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-insights/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/review-insights/internal/storage/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	store       review.Store
	gcs         *storage.Client
	metrics     *metrics.Metrics
	coordinator *ingest.Coordinator
	apiServer   *api.Server
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Coordinator returns the ingestion coordinator.
func (a *App) Coordinator() *ingest.Coordinator {
	return a.coordinator
}

// Build creates the application's dependencies. A nil logger is built from
// cfg.Logging and installed as the global zap logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger, metrics: metrics.New(nil)}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("cache", cfg.Cache.Backend),
	)

	clock := system.New()
	if err := app.setupStore(ctx, clock); err != nil {
		return nil, err
	}
	cache, err := app.setupCache(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	client, err := playstore.New(playstore.Config{
		BaseURL:           cfg.Scraper.BaseURL,
		UserAgent:         cfg.Scraper.UserAgent,
		Timeout:           cfg.ScraperTimeout(),
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Burst:             cfg.Scraper.Burst,
		MaxRetries:        cfg.Scraper.MaxRetries,
		BackoffInitial:    time.Duration(cfg.Scraper.BackoffInitialMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Scraper.BackoffMaxMs) * time.Millisecond,
		BreakerFailures:   cfg.Scraper.BreakerFailures,
		BreakerOpen:       time.Duration(cfg.Scraper.BreakerOpenSeconds) * time.Second,
	}, nil, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("playstore client init failed: %w", err)
	}

	pipeline := normalize.New(app.store, clock, cfg.Normalize.Language, logger)
	app.coordinator = ingest.New(app.store, client, client, pipeline, clock, app.metrics, ingest.Config{
		KeepDays:     cfg.Retention.KeepDays,
		KeepSessions: cfg.Retention.KeepSessions,
	}, logger)

	var options []report.Option
	if cache != nil {
		options = append(options, report.WithCache(cache))
	}
	views, err := report.New(app.store, report.RenderOptions{
		Width:    cfg.Render.Width,
		Height:   cfg.Render.Height,
		MaxWords: cfg.Render.MaxWords,
		Seed:     cfg.Render.Seed,
	}, logger, options...)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("report service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.coordinator, app.store, views, app.metrics, cfg, logger)
	return app, nil
}

func (a *App) setupStore(ctx context.Context, clock review.Clock) error {
	db := a.cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: time.Duration(db.MaxConnLifetimeMinutes) * time.Minute,
		}, clock)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres store")
	default:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: db.Path}, clock)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using sqlite store", zap.String("path", db.Path))
	}
	return nil
}

func (a *App) setupCache(ctx context.Context) (*report.Cache, error) {
	var blobs review.BlobStore
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		a.logger.Info("render cache disabled")
		return nil, nil
	case config.CacheGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Cache.GCSBucket,
			Prefix: a.cfg.Cache.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS render cache", zap.String("bucket", a.cfg.Cache.GCSBucket))
	case config.CacheLocal:
		var err error
		blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Cache.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local render cache", zap.String("path", a.cfg.Cache.BaseDir))
	default:
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory render cache")
	}
	return report.NewCache(blobs, sha256.New(), a.logger), nil
}

// Run serves HTTP and the retention janitor until ctx is canceled or a
// termination signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.coordinator.RunJanitor(ctx, a.cfg.RetentionInterval())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return closeErr
	}
}

// Close waits for in-flight sessions, bounded by ctx, then releases the
// store and cache clients.
func (a *App) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("sessions still running at shutdown", zap.Error(ctx.Err()))
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}
