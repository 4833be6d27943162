// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/api"
	"github.com/JakeFAU/crawl-session-manager/internal/clock/system"
	"github.com/JakeFAU/crawl-session-manager/internal/config"
	fileengine "github.com/JakeFAU/crawl-session-manager/internal/engine/file"
	webengine "github.com/JakeFAU/crawl-session-manager/internal/engine/web"
	"github.com/JakeFAU/crawl-session-manager/internal/hash/sha256"
	"github.com/JakeFAU/crawl-session-manager/internal/id/uuid"
	"github.com/JakeFAU/crawl-session-manager/internal/index"
	"github.com/JakeFAU/crawl-session-manager/internal/logging"
	"github.com/JakeFAU/crawl-session-manager/internal/manager"
	"github.com/JakeFAU/crawl-session-manager/internal/metrics"
	"github.com/JakeFAU/crawl-session-manager/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-session-manager/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-session-manager/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/crawl-session-manager/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawl-session-manager/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-session-manager/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-session-manager/internal/runner"
	"github.com/JakeFAU/crawl-session-manager/internal/session"
	gcsstorage "github.com/JakeFAU/crawl-session-manager/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-session-manager/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-session-manager/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-session-manager/internal/storage/postgres"
	redisstore "github.com/JakeFAU/crawl-session-manager/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/crawl-session-manager/internal/storage/sqlite"
	"github.com/JakeFAU/crawl-session-manager/internal/store"
	"github.com/JakeFAU/crawl-session-manager/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server

	managers    map[session.Kind]*manager.Manager
	runners     []*runner.Runner
	progressHub *progress.Hub
	runRepo     store.RunRepository
	archive     session.BlobStore
	publisher   session.Publisher

	pool           *pgxpool.Pool
	closers        []func() error
	pubsubClient   *pubsub.Client
	pubsubPub      *gcppublisher.Publisher
	kafkaPub       *kafkapublisher.Publisher
	storage        *storage.Client
	tracerShutdown telemetry.Shutdown
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers progress collectors against reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// Build creates the application's dependencies and restores persisted sessions.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		managers: make(map[session.Kind]*manager.Manager),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
	)

	_, shutdown, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.TracingEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = shutdown
	metrics.Init()

	if err := app.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		app.abortBuild(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o buildOptions) error {
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupArchive(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx, o.registerer)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Web.RatePerHost,
		DefaultBurst: a.cfg.Web.BurstPerHost,
		Observe:      metrics.ObserveRateLimitDelay,
	})
	executors := map[session.Kind]session.Executor{
		session.KindWeb: webengine.New(webengine.Config{
			UserAgent:     a.cfg.Web.UserAgent,
			MaxDepth:      a.cfg.Web.MaxDepth,
			MaxURLNumber:  a.cfg.Web.MaxURLNumber,
			Timeout:       time.Duration(a.cfg.Web.TimeoutSeconds) * time.Second,
			RespectRobots: a.cfg.Web.RespectRobots,
		}, limiter, a.logger),
		session.KindFile: fileengine.New(fileengine.Config{
			MaxDepth:      a.cfg.File.MaxDepth,
			MaxFileNumber: a.cfg.File.MaxFileNumber,
			Root:          a.cfg.File.Root,
		}, a.logger),
	}

	clock := system.New()
	ids := uuid.New()
	sessions := make(map[session.Kind]api.SessionService, len(executors))
	for _, kind := range []session.Kind{session.KindWeb, session.KindFile} {
		mgr, err := a.setupKind(ctx, kind, executors[kind], emitter, clock, ids)
		if err != nil {
			return err
		}
		a.managers[kind] = mgr
		sessions[kind] = mgr
	}

	a.apiServer = api.NewServer(api.Deps{
		Sessions: sessions,
		Indexes:  index.NewCatalog(ids, clock, a.logger),
		Runs:     a.runRepo,
		Ready:    a.ready,
	}, api.Options{
		APIKey:         a.apiKey(),
		RequestTimeout: a.cfg.RequestTimeout(),
		Tracing:        a.cfg.Telemetry.TracingEnabled,
	}, a.logger.Named("api"))
	return nil
}

func (a *App) setupKind(
	ctx context.Context,
	kind session.Kind,
	exec session.Executor,
	emitter progress.Emitter,
	clock *system.Clock,
	ids *uuid.Generator,
) (*manager.Manager, error) {
	defs, err := a.definitionStore(ctx, kind)
	if err != nil {
		return nil, err
	}
	registry := memorystorage.NewRegistry(kind, clock)
	topic := ""
	if a.publisher != nil {
		topic = a.cfg.Publisher.Topic
	}
	run, err := runner.New(runner.Deps{
		Registry:  registry,
		Executor:  exec,
		IDs:       ids,
		Clock:     clock,
		Archive:   a.archive,
		Hasher:    sha256.New(),
		Publisher: a.publisher,
		Progress:  emitter,
		Logger:    a.logger.Named("runner"),
	}, runner.Config{
		Kind:           kind,
		MaxRunTime:     a.cfg.MaxRunTime(),
		SnapshotPrefix: a.cfg.Archive.Prefix,
		Topic:          topic,
	})
	if err != nil {
		return nil, fmt.Errorf("%s runner init failed: %w", kind, err)
	}
	a.runners = append(a.runners, run)

	mgr, err := manager.New(kind, defs, registry, run, manager.Config{
		DefaultLimit: a.cfg.List.DefaultLimit,
		MaxLimit:     a.cfg.List.MaxLimit,
	}, a.logger.Named("manager"))
	if err != nil {
		return nil, fmt.Errorf("%s manager init failed: %w", kind, err)
	}
	if _, err := mgr.Restore(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (a *App) definitionStore(ctx context.Context, kind session.Kind) (session.DefinitionStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		defs, err := pgstore.NewDefinitionStore(a.pool, a.cfg.Storage.Postgres.Table, kind)
		if err != nil {
			return nil, fmt.Errorf("postgres definition store init failed: %w", err)
		}
		return defs, nil
	case config.BackendRedis:
		rc := a.cfg.Storage.Redis
		defs, err := redisstore.New(ctx, rc.Addr, kind,
			redisstore.WithPassword(rc.Password),
			redisstore.WithDB(rc.DB),
			redisstore.WithPrefix(rc.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis definition store init failed: %w", err)
		}
		a.closers = append(a.closers, defs.Close)
		return defs, nil
	case config.BackendSQLite:
		defs, err := sqlitestore.New(ctx, a.cfg.Storage.SQLite.Path, kind)
		if err != nil {
			return nil, fmt.Errorf("sqlite definition store init failed: %w", err)
		}
		a.closers = append(a.closers, defs.Close)
		return defs, nil
	default:
		return memorystorage.NewDefinitionStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Storage.Backend != config.BackendPostgres {
		a.logger.Info("run history kept in memory")
		a.runRepo = memorystorage.NewRunStore()
		return nil
	}
	pc := a.cfg.Storage.Postgres
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             pc.DSN,
		MaxConns:        pc.MaxConns,
		MinConns:        pc.MinConns,
		MaxConnLifetime: time.Duration(pc.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runRepo = runs
	a.logger.Info("postgres storage initialized", zap.String("table", pc.Table))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Archive.Backend {
	case "gcs":
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.archive, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case "local":
		a.archive, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot archive", zap.String("path", a.cfg.Archive.LocalDir))
	case "memory":
		a.archive = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot archive")
	default:
		a.logger.Info("snapshot archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	pc := a.cfg.Publisher
	switch pc.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, pc.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPub = gcppublisher.New(client)
		a.publisher = a.pubsubPub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", pc.ProjectID),
			zap.String("topic", pc.Topic),
		)
	case "kafka":
		a.kafkaPub = kafkapublisher.New(pc.KafkaBrokers...)
		a.publisher = a.kafkaPub
		a.logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", pc.KafkaBrokers),
			zap.String("topic", pc.Topic),
		)
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher", zap.String("topic", pc.Topic))
	default:
		a.logger.Info("lifecycle notifications disabled")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchSize,
		MaxBatchWait:   time.Duration(a.cfg.Progress.FlushMillis) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return a.progressHub, nil
}

func (a *App) apiKey() string {
	if !a.cfg.Auth.Enabled {
		return ""
	}
	return a.cfg.Auth.APIKey
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close aborts in-flight runs, flushes progress and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, r := range a.runners {
		if err := r.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// abortBuild releases whatever a failed Build already acquired, tracing included.
func (a *App) abortBuild(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaPub != nil {
		if err := a.kafkaPub.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("definition store close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync commonly fails on stdout/stderr; nothing useful to do about it.
	_ = a.logger.Sync()
}
