// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/api"
	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/clock/system"
	"github.com/JakeFAU/sitemap-monitor/internal/config"
	"github.com/JakeFAU/sitemap-monitor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemap-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-monitor/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-monitor/internal/id/uuid"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/notify"
	"github.com/JakeFAU/sitemap-monitor/internal/pipeline"
	"github.com/JakeFAU/sitemap-monitor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitemap-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitemap-monitor/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/sitemap-monitor/internal/queue/memory"
	"github.com/JakeFAU/sitemap-monitor/internal/scheduler"
	"github.com/JakeFAU/sitemap-monitor/internal/service"
	"github.com/JakeFAU/sitemap-monitor/internal/snapshot"
	gcsstorage "github.com/JakeFAU/sitemap-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-monitor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/sitemap-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-monitor/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/sitemap-monitor/internal/storage/sqlite"
	"github.com/JakeFAU/sitemap-monitor/internal/worker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

type closer interface {
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     monitor.Store
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	workers   []*worker.Worker
	scheduler *scheduler.Scheduler
	service   *service.Service
	apiServer *api.Server
	closers   []namedCloser
}

type namedCloser struct {
	name string
	c    closer
}

// Service exposes the monitor operations, mainly for the CLI.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP handler of the ops server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies. The logger is owned by the caller.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}
	app.store = store

	blobs, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	check := NewChecker(cfg, logger)

	snapOpts := []snapshot.Option{snapshot.WithLogger(logger.Named("snapshot"))}
	if blobs != nil {
		snapOpts = append(snapOpts, snapshot.WithArchive(blobs, cfg.Archive.Prefix))
	}
	snapshots := snapshot.NewService(store, sha256.New(), ids, clock, snapOpts...)

	notifier := notify.NewDispatcher(store, notify.Senders{
		monitor.ChannelEmail: notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			UseTLS:   cfg.SMTP.UseTLS,
			Timeout:  cfg.SMTP.Timeout,
		}, nil, logger.Named("email")),
		monitor.ChannelWebhook: notify.NewWebhookSender(cfg.Webhook.Timeout, logger.Named("webhook")),
	}, ids, clock, logger.Named("notify"))

	runner := pipeline.New(pipeline.Deps{
		Store:     store,
		Checker:   check,
		Snapshots: snapshots,
		Notifier:  notifier,
		Publisher: publisher,
		Topic:     cfg.Events.Topic,
		IDs:       ids,
		Clock:     clock,
		Logger:    logger.Named("pipeline"),
	})

	app.queue = queueMemory.NewQueue(cfg.Scheduler.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, logger.Named("dispatcher"))
	workerCfg := worker.Config{
		SoftTimeout: cfg.Jobs.SoftTimeout,
		HardTimeout: cfg.Jobs.HardTimeout,
		MaxRetries:  cfg.Jobs.MaxRetries,
		RetryDelay:  cfg.Jobs.RetryDelay,
	}
	for i := 0; i < cfg.Scheduler.Workers; i++ {
		app.workers = append(app.workers, worker.New(
			i, app.dispatch, runner, app.dispatch, workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.scheduler = scheduler.New(store, app.dispatch, clock, cfg.Scheduler.Tick, logger.Named("scheduler"))

	app.service = service.New(store, app.dispatch, check, notifier, ids, clock, logger.Named("service"))
	app.apiServer = api.NewServer(app.service, api.Options{
		APIKey: cfg.Server.APIKey,
		Ready:  app.ready,
	}, logger.Named("api"))

	ok = true
	return app, nil
}

// NewChecker builds the fetch and expansion stack used by both the pipeline
// and one-off CLI checks.
func NewChecker(cfg config.Config, logger *zap.Logger) *checker.Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.Fetch.RatePerHost,
		Burst:      cfg.Fetch.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		RetryDelay:   cfg.Fetch.RetryDelay,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, limiter, logger.Named("fetcher"))
	return checker.New(fetcher, checker.Config{MaxDepth: cfg.Checker.MaxDepth}, logger.Named("checker"))
}

func setupStore(ctx context.Context, app *App) (monitor.Store, error) {
	switch app.cfg.Store.Backend {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             app.cfg.Store.DSN,
			MaxConns:        app.cfg.Store.MaxConns,
			MinConns:        app.cfg.Store.MinConns,
			MaxConnLifetime: app.cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.track("postgres store", store)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("using postgres store")
		return store, nil
	case "sqlite":
		store, err := sqlitestore.Open(ctx, app.cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.track("sqlite store", store)
		app.logger.Info("using sqlite store", zap.String("path", app.cfg.Store.SQLitePath))
		return store, nil
	default:
		app.logger.Warn("using in-memory store; monitors are lost on restart")
		return memoryStorage.NewStore(), nil
	}
}

func setupArchive(ctx context.Context, app *App) (monitor.BlobStore, error) {
	switch app.cfg.Archive.Backend {
	case "gcs":
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket}, app.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.track("gcs client", blobs)
		app.logger.Info("archiving snapshots to GCS", zap.String("bucket", app.cfg.Archive.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving snapshots locally", zap.String("path", app.cfg.Archive.BaseDir))
		return blobs, nil
	case "memory":
		app.logger.Info("archiving snapshots in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Debug("snapshot archive disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (monitor.Publisher, error) {
	if app.cfg.Events.Topic == "" || app.cfg.Events.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.Events.ProjectID, app.cfg.Events.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.track("pubsub client", pub)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Events.ProjectID),
		zap.String("topic", app.cfg.Events.Topic),
	)
	return pub, nil
}

func (a *App) track(name string, c closer) {
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

func (a *App) ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store not ready: %w", err)
		}
	}
	return nil
}

// Run starts the background loops and the HTTP server, and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx, a.workers)
	}()
	go func() {
		defer wg.Done()
		a.logger.Info("scheduler started", zap.Duration("tick", a.cfg.Scheduler.Tick))
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	wg.Wait()
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure clients. It is safe to call more than once.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", nc.name), zap.Error(err))
		}
	}
	a.closers = nil
}
