// Package server builds the scraper's dependency graph and owns its
// lifecycle: HTTP serving, worker shutdown and infrastructure teardown.
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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/api"
	"github.com/JakeFAU/places-scraper/internal/cancel"
	"github.com/JakeFAU/places-scraper/internal/clock/system"
	"github.com/JakeFAU/places-scraper/internal/config"
	"github.com/JakeFAU/places-scraper/internal/dispatcher"
	"github.com/JakeFAU/places-scraper/internal/extract"
	"github.com/JakeFAU/places-scraper/internal/id/uuid"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/logging"
	"github.com/JakeFAU/places-scraper/internal/orchestrator"
	"github.com/JakeFAU/places-scraper/internal/output"
	"github.com/JakeFAU/places-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/places-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/places-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/places-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/places-scraper/internal/registry"
	"github.com/JakeFAU/places-scraper/internal/resource"
	"github.com/JakeFAU/places-scraper/internal/storage/badgerdb"
	"github.com/JakeFAU/places-scraper/internal/storage/file"
	gcsstorage "github.com/JakeFAU/places-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/places-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/places-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/places-scraper/internal/storage/postgres"
	"github.com/JakeFAU/places-scraper/internal/worker"
)

// publisherCloser is a job.Publisher that owns a connection.
type publisherCloser interface {
	job.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	registerer  prometheus.Registerer
	state       job.StateStore
	jobs        *registry.Registry
	flags       *cancel.Flags
	resources   *resource.Registry
	outputs     *output.Store
	service     *orchestrator.Service
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server
	progressHub *progress.Hub
	publisher   publisherCloser
	storage     *storage.Client
	stopWorkers context.CancelFunc
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{
		cfg:        cfg,
		logger:     logger,
		registerer: reg,
		flags:      cancel.NewFlags(),
		resources:  resource.NewRegistry(),
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Int("max_concurrent", cfg.Jobs.MaxConcurrent),
	)

	// Infrastructure opened so far is released if a later step fails.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	var err error
	if app.state, err = setupState(ctx, app); err != nil {
		return nil, err
	}
	clock := system.New()
	app.jobs, err = registry.Open(ctx, app.state, uuid.New(), clock, logging.Component(logger, "registry"))
	if err != nil {
		return nil, fmt.Errorf("job registry init failed: %w", err)
	}
	app.outputs, err = output.NewStore(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("output store init failed: %w", err)
	}
	blobs, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	if err = setupProgress(app); err != nil {
		return nil, err
	}

	launcher := extract.NewChromeLauncher(extract.ChromeConfig{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		ExecPath:  cfg.Browser.ExecPath,
	}, logging.Component(logger, "chrome"))
	scraper := extract.New(launcher, extractConfig(cfg.Browser), logging.Component(logger, "extract"))

	workerCfg := worker.Config{
		QueryDelay:  cfg.Jobs.QueryDelay,
		BlobPrefix:  cfg.Archive.Prefix,
		ContentType: cfg.Archive.ContentType,
	}
	logger.Info("worker config",
		zap.Duration("query_delay", workerCfg.QueryDelay),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.Bool("archive", blobs != nil),
	)
	runner := worker.New(
		app.jobs,
		app.flags,
		app.resources,
		scraper,
		app.outputs,
		blobs,
		app.progressHub,
		clock,
		workerCfg,
		logging.Component(logger, "worker"),
	)

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	app.stopWorkers = stopWorkers
	app.dispatch = dispatcher.New(workerCtx, runner, app.flags, cfg.Jobs.MaxConcurrent, logging.Component(logger, "dispatcher"))
	app.service = orchestrator.New(
		app.jobs,
		app.flags,
		app.resources,
		app.dispatch,
		app.progressHub,
		clock,
		logging.Component(logger, "orchestrator"),
	)
	app.apiServer = api.NewServer(app.service, app.outputs, clock, *cfg, logging.Component(logger, "api"))

	ok = true
	return app, nil
}

// Service exposes the job control plane.
func (a *App) Service() *orchestrator.Service {
	return a.service
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and blocks until ctx is cancelled or a termination signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// RunJob submits one job, waits for it to reach a terminal status and
// returns the final record. Cancelling ctx requests termination of the job
// rather than abandoning it.
func (a *App) RunJob(ctx context.Context, queries []string, location string) (job.Record, error) {
	sub, err := a.service.Submit(ctx, queries, location)
	if err != nil {
		return job.Record{}, err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.logger.Info("terminating job", zap.String("job_id", sub.JobID))
			if err := a.service.Cancel(context.WithoutCancel(ctx), sub.JobID); err != nil {
				a.logger.Warn("terminate failed", zap.String("job_id", sub.JobID), zap.Error(err))
			}
		case <-done:
		}
	}()
	a.dispatch.Wait()
	close(done)
	return a.service.Status(sub.JobID)
}

// Close stops workers, releases browsers and tears down infrastructure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.stopWorkers != nil {
		a.stopWorkers()
	}
	if a.service != nil {
		if err := a.service.Shutdown(); err != nil {
			a.logger.Warn("browser release failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.dispatch != nil {
		waitDone := make(chan struct{})
		go func() {
			a.dispatch.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-ctx.Done():
			a.logger.Warn("workers did not stop before the shutdown deadline")
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("state store close failed", zap.Error(err))
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func setupState(ctx context.Context, app *App) (job.StateStore, error) {
	cfg := app.cfg.State
	switch cfg.Backend {
	case config.StatePostgres:
		app.logger.Info("using postgres state backend", zap.String("jobs_table", cfg.Postgres.JobsTable))
		store, err := pgstore.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres state store init failed: %w", err)
		}
		return store, nil
	case config.StateBadger:
		app.logger.Info("using badger state backend",
			zap.String("path", cfg.Badger.Path),
			zap.Bool("in_memory", cfg.Badger.InMemory),
		)
		store, err := badgerdb.New(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("badger state store init failed: %w", err)
		}
		return store, nil
	case config.StateMemory:
		app.logger.Warn("using in-memory state backend, jobs will not survive a restart")
		return memorystorage.NewStateStore(), nil
	default:
		app.logger.Info("using file state backend", zap.String("dir", cfg.File.Dir))
		store, err := file.New(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("file state store init failed: %w", err)
		}
		return store, nil
	}
}

func setupArchive(ctx context.Context, app *App) (job.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		app.logger.Info("using GCS archive backend", zap.String("bucket", cfg.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveLocal:
		app.logger.Info("using local archive backend", zap.String("path", cfg.Local.BaseDir))
		blobs, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveMemory:
		app.logger.Info("using in-memory archive backend")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("output archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	if !app.cfg.PubSub.Enabled {
		app.logger.Debug("Pub/Sub disabled, job notifications stay in memory")
		app.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.Config)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	pubSink, err := progresssinks.NewPublisherSink(
		app.publisher,
		app.cfg.PubSub.TopicName,
		logging.Component(app.logger, "progress_publisher"),
	)
	if err != nil {
		return fmt.Errorf("progress publisher init failed: %w", err)
	}
	hubCfg := app.cfg.Progress
	hubCfg.Logger = logging.Component(app.logger, "progress_hub")
	app.progressHub = progress.NewHub(
		hubCfg,
		progresssinks.NewLogSink(logging.Component(app.logger, "progress_log")),
		promSink,
		pubSink,
	)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func extractConfig(b config.BrowserConfig) extract.Config {
	return extract.Config{
		MaxPages:          b.MaxPages,
		LaunchTimeout:     b.LaunchTimeout,
		NavigationTimeout: b.NavigationTimeout,
		ElementTimeout:    b.ElementTimeout,
		NextTimeout:       b.NextTimeout,
		PanelWait:         b.PanelWait,
		PageSettle:        b.PageSettle,
		ListingPauseMin:   b.ListingPauseMin,
		ListingPauseMax:   b.ListingPauseMax,
		PageQPS:           b.PageQPS,
	}
}
