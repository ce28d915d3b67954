// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/api"
	"github.com/rradofina/alonchat-ingest/internal/clock/system"
	"github.com/rradofina/alonchat-ingest/internal/config"
	"github.com/rradofina/alonchat-ingest/internal/dispatcher"
	collyfetch "github.com/rradofina/alonchat-ingest/internal/fetch/colly"
	"github.com/rradofina/alonchat-ingest/internal/id/uuid"
	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/links"
	"github.com/rradofina/alonchat-ingest/internal/logging"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	"github.com/rradofina/alonchat-ingest/internal/progress"
	"github.com/rradofina/alonchat-ingest/internal/queue"
	queuemem "github.com/rradofina/alonchat-ingest/internal/queue/memory"
	"github.com/rradofina/alonchat-ingest/internal/ratelimit"
	"github.com/rradofina/alonchat-ingest/internal/reconcile"
	storemem "github.com/rradofina/alonchat-ingest/internal/store/memory"
	storepg "github.com/rradofina/alonchat-ingest/internal/store/postgres"
	"github.com/rradofina/alonchat-ingest/internal/telemetry"
	"github.com/rradofina/alonchat-ingest/internal/urlsafe"
	"github.com/rradofina/alonchat-ingest/internal/worker"
)

// App holds all the shared, long-lived services for the ingestion service.
// It is initialized once at startup.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    ingest.SourceStore
	storePG  *storepg.SourceStore
	queue    queue.Queue
	hub      *progress.Hub
	limiter  *ratelimit.MemoryLimiter
	dispatch *dispatcher.Dispatcher
	runner   *reconcile.Runner
	server   *api.Server
	tracer   *sdktrace.TracerProvider
}

// New wires every service from config. It fails fast if any critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	tracer, err := telemetry.InitTracerProvider(ctx, "alonchat-ingest")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	clock := system.New()
	idGen := uuid.NewGenerator()
	checker := urlsafe.NewChecker(cfg.Safety.BlockedDomains)

	a := &App{cfg: cfg, logger: logger, tracer: tracer}

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := storepg.NewSourceStore(ctx, storepg.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(cfg.Database.ConnLifetimeMin) * time.Minute,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.store = pg
		a.storePG = pg
		logger.Info("using postgres source store")
	case "memory":
		a.store = storemem.NewSourceStore(clock)
		logger.Info("using in-memory source store")
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	a.queue = queuemem.New(cfg.Queue.Capacity, idGen, clock)
	a.hub = progress.NewHub(cfg.Events.BufferSize, logger.Named("events"))
	a.limiter = ratelimit.NewMemoryLimiter(clock)

	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		DomainRPS:    cfg.Fetch.DomainRPS,
		DomainBurst:  cfg.Fetch.DomainBurst,
	}, checker, logger.Named("fetch"))
	extractor := links.NewExtractor(checker, idGen)
	verifier := links.NewVerifier(nil, clock, logger.Named("verify"))

	workerCfg := worker.Config{
		MaxPages:      cfg.Worker.MaxPages,
		FetchAttempts: cfg.Worker.FetchAttempts,
		FetchDelay:    time.Duration(cfg.Worker.BackoffInitialMs) * time.Millisecond,
		FetchMaxDelay: time.Duration(cfg.Worker.BackoffMaxMs) * time.Millisecond,
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Count)
	for i := 0; i < cfg.Worker.Count; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.store,
			fetcher,
			extractor,
			a.hub,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(workers, logger.Named("dispatcher"))

	reconciler := reconcile.New(a.queue, a.store, logger.Named("reconcile"))
	a.runner = reconcile.NewRunner(reconciler, cfg.ReconcileInterval(), logger.Named("reconcile"))

	a.server = api.NewServer(
		a.queue,
		a.store,
		a.hub,
		reconciler,
		a.limiter,
		checker,
		verifier,
		clock,
		cfg,
		logger.Named("api"),
	)

	logger.Info("application services initialized")
	return a, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the worker pool, the reconcile loop, and the HTTP server, and
// blocks until ctx is canceled. Shutdown drains the HTTP server before
// releasing the queue.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.dispatch.Run(runCtx)
	go a.runner.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.hub != nil {
		a.hub.Close()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil && !errors.Is(err, ingest.ErrQueueUnavailable) {
			a.logger.Warn("error closing queue", zap.Error(err))
		}
	}
	if a.storePG != nil {
		a.storePG.Close()
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown error", zap.Error(err))
		}
		cancel()
	}
	_ = a.logger.Sync()
}
