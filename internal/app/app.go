// Package app initializes and holds long-lived application services, acting as a dependency injection
// container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
	"github.com/JakeFAU/hellowork-crawler/internal/clock/system"
	"github.com/JakeFAU/hellowork-crawler/internal/config"
	"github.com/JakeFAU/hellowork-crawler/internal/crawl"
	"github.com/JakeFAU/hellowork-crawler/internal/deadletter"
	"github.com/JakeFAU/hellowork-crawler/internal/dispatcher"
	"github.com/JakeFAU/hellowork-crawler/internal/etl"
	"github.com/JakeFAU/hellowork-crawler/internal/hash/sha256"
	"github.com/JakeFAU/hellowork-crawler/internal/id/uuid"
	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
	"github.com/JakeFAU/hellowork-crawler/internal/queue/asynqueue"
	"github.com/JakeFAU/hellowork-crawler/internal/queue/memory"
	gcppubsub "github.com/JakeFAU/hellowork-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/hellowork-crawler/internal/server"
	"github.com/JakeFAU/hellowork-crawler/internal/snapshot"
	gcssnapshot "github.com/JakeFAU/hellowork-crawler/internal/snapshot/gcs"
	localsnapshot "github.com/JakeFAU/hellowork-crawler/internal/snapshot/local"
	memorysnapshot "github.com/JakeFAU/hellowork-crawler/internal/snapshot/memory"
	"github.com/JakeFAU/hellowork-crawler/internal/store"
	"github.com/JakeFAU/hellowork-crawler/internal/worker"
)

// App holds the shared services. Queue backends and the dead-letter archive are built on first use,
// so a command only connects to what it needs.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	launcher  browser.Launcher
	loader    *store.Client
	snapshots *snapshot.Archiver
	gcs       *storage.Client

	mem     *memory.Queue
	ps      *gcppubsub.Queue
	aProd   *asynqueue.Producer
	aCons   *asynqueue.Consumer
	aDead   *asynqueue.DeadLetters
	archive *deadletter.PostgresArchive
}

// Option overrides a service, mainly for tests.
type Option func(*App)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) Option { return func(a *App) { a.launcher = l } }

// New builds the container. It fails fast on anything that cannot be constructed from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("initializing application services",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if a.launcher == nil {
		a.launcher = browser.NewChrome(browser.ChromeConfig{
			Headless:          cfg.Browser.Headless,
			ExecPath:          cfg.Browser.ExecPath,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			ActionTimeout:     cfg.ActionTimeout(),
		}, logger)
	}

	var err error
	a.loader, err = store.New(store.Config{
		Endpoint: cfg.Store.Endpoint,
		APIKey:   cfg.Store.APIKey,
		Timeout:  cfg.StoreTimeout(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("store client init failed: %w", err)
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.snapshots = snapshot.NewArchiver(blobs, sha256.New(), cfg.Storage.Prefix)

	if cfg.Queue.Backend == config.QueueMemory {
		a.mem = memory.NewQueue(memory.Config{
			Capacity:        cfg.Queue.Capacity,
			MaxReceiveCount: cfg.Queue.MaxReceiveCount,
			VisibilityDelay: cfg.VisibilityDelay(),
		})
	}
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) (snapshot.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.Bucket))
		var err error
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcssnapshot.New(a.gcs, gcssnapshot.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.StorageLocal:
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localsnapshot.New(localsnapshot.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory snapshot storage")
		return memorysnapshot.NewBlobStore(), nil
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

func (a *App) asynqConfig() asynqueue.Config {
	q := a.cfg.Queue
	return asynqueue.Config{
		Addr:            q.Redis.Addr,
		Password:        q.Redis.Password,
		DB:              q.Redis.DB,
		Queue:           q.Name,
		MaxReceiveCount: q.MaxReceiveCount,
		VisibilityDelay: a.cfg.VisibilityDelay(),
		Timeout:         a.cfg.ETLTimeout(),
		Concurrency:     q.Concurrency,
	}
}

func (a *App) pubsubQueue(ctx context.Context) (*gcppubsub.Queue, error) {
	if a.ps != nil {
		return a.ps, nil
	}
	ps := a.cfg.Queue.PubSub
	q, err := gcppubsub.New(ctx, gcppubsub.Config{
		ProjectID:                ps.ProjectID,
		TopicID:                  ps.TopicID,
		SubscriptionID:           ps.SubscriptionID,
		DeadLetterSubscriptionID: ps.DeadLetterSubscriptionID,
		Concurrency:              a.cfg.Queue.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub queue init failed: %w", err)
	}
	a.logger.Info("connected to Pub/Sub", zap.String("project", ps.ProjectID), zap.String("topic", ps.TopicID))
	a.ps = q
	return q, nil
}

// Producer returns the configured queue's producer.
func (a *App) Producer(ctx context.Context) (queue.Producer, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueAsynq:
		if a.aProd == nil {
			a.aProd = asynqueue.NewProducer(a.asynqConfig())
		}
		return a.aProd, nil
	case config.QueuePubSub:
		return a.pubsubQueue(ctx)
	default:
		return a.mem, nil
	}
}

// Consumer returns the configured queue's consumer and the number of Consume loops it should run.
// asynq and Pub/Sub parallelize inside a single loop.
func (a *App) Consumer(ctx context.Context) (queue.Consumer, int, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueAsynq:
		if a.aCons == nil {
			a.aCons = asynqueue.NewConsumer(a.asynqConfig(), a.logger)
		}
		return a.aCons, 1, nil
	case config.QueuePubSub:
		q, err := a.pubsubQueue(ctx)
		return q, 1, err
	default:
		return a.mem, a.cfg.Queue.Concurrency, nil
	}
}

// DeadLetters returns the configured queue's dead-letter side.
func (a *App) DeadLetters(ctx context.Context) (queue.DeadLetterQueue, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueAsynq:
		if a.aDead == nil {
			a.aDead = asynqueue.NewDeadLetters(a.asynqConfig())
		}
		return a.aDead, nil
	case config.QueuePubSub:
		return a.pubsubQueue(ctx)
	default:
		return a.mem, nil
	}
}

// CrawlRunner builds the listing crawl.
func (a *App) CrawlRunner(ctx context.Context) (*crawl.Runner, error) {
	producer, err := a.Producer(ctx)
	if err != nil {
		return nil, err
	}
	return crawl.New(crawl.Config{
		SearchURL:     a.cfg.Site.SearchURL,
		Criteria:      a.cfg.Crawl.Criteria,
		RoughMaxCount: a.cfg.Crawl.RoughMaxCount,
		NextPageDelay: a.cfg.NextPageDelay(),
		Timeout:       a.cfg.CrawlTimeout(),
	}, crawl.Deps{Launcher: a.launcher, Producer: producer, Logger: a.logger})
}

// Orchestrator builds the per-job ETL orchestrator.
func (a *App) Orchestrator() (*etl.Orchestrator, error) {
	return etl.New(etl.Config{SearchURL: a.cfg.Site.SearchURL}, etl.Deps{
		Launcher:  a.launcher,
		Loader:    a.loader,
		Snapshots: a.snapshots,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Logger:    a.logger,
	})
}

// Dispatcher builds the worker pool that feeds queue deliveries to the orchestrator.
func (a *App) Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	orch, err := a.Orchestrator()
	if err != nil {
		return nil, err
	}
	consumer, loops, err := a.Consumer(ctx)
	if err != nil {
		return nil, err
	}
	w := worker.New(orch, worker.Config{Timeout: a.cfg.ETLTimeout()}, a.logger)
	a.logger.Info("worker pool configured",
		zap.Int("consume_loops", loops),
		zap.Int("concurrency", a.cfg.Queue.Concurrency),
		zap.Duration("etl_timeout", a.cfg.ETLTimeout()),
	)
	return dispatcher.New(consumer, w.Handle, loops), nil
}

// Reporter returns the GitHub reporter when a repository is configured, otherwise the log reporter.
func (a *App) Reporter() (deadletter.Reporter, error) {
	gh := a.cfg.DeadLetter.GitHub
	if gh.Repo == "" {
		a.logger.Warn("no issue tracker configured, dead-letter reports will only be logged")
		return deadletter.LogReporter{Logger: a.logger.Named("deadletter")}, nil
	}
	return deadletter.NewGitHubReporter(deadletter.GitHubConfig{
		APIURL: gh.APIURL,
		Owner:  gh.Owner,
		Repo:   gh.Repo,
		Token:  gh.Token,
		Labels: gh.Labels,
	}, &http.Client{Timeout: a.cfg.StoreTimeout()})
}

// Inspector builds the dead-letter inspector. The Postgres archive is attached when a DSN is set.
func (a *App) Inspector(ctx context.Context) (*deadletter.Inspector, error) {
	dlq, err := a.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	reporter, err := a.Reporter()
	if err != nil {
		return nil, fmt.Errorf("reporter init failed: %w", err)
	}
	deps := deadletter.Deps{
		Queue:    dlq,
		Reporter: reporter,
		IDs:      uuid.New(),
		Clock:    system.New(),
		Logger:   a.logger,
	}
	if a.cfg.DeadLetter.DSN != "" {
		if a.archive == nil {
			a.archive, err = deadletter.NewPostgresArchive(ctx, deadletter.PostgresConfig{
				DSN:   a.cfg.DeadLetter.DSN,
				Table: a.cfg.DeadLetter.Table,
			})
			if err != nil {
				return nil, fmt.Errorf("dead-letter archive init failed: %w", err)
			}
			a.logger.Info("dead-letter archive initialized", zap.String("table", a.cfg.DeadLetter.Table))
		}
		deps.Archive = a.archive
	}
	return deadletter.NewInspector(deadletter.Config{MaxDrain: a.cfg.DeadLetter.MaxDrain}, deps)
}

// Server builds the ops HTTP server. Readiness probes the dead-letter queue when the backend can
// report depth.
func (a *App) Server(ctx context.Context) *server.Server {
	checks := map[string]server.Check{}
	if dlq, err := a.DeadLetters(ctx); err == nil && dlq != nil {
		checks["queue"] = func(ctx context.Context) error {
			_, err := dlq.Depth(ctx)
			return err
		}
	}
	return server.New(server.Config{Port: a.cfg.Server.Port}, checks, a.logger)
}

// Close shuts down every service that was started. It is called by a Cobra hook after the command
// finishes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.aProd != nil {
		errs = append(errs, a.aProd.Close())
	}
	if a.aDead != nil {
		errs = append(errs, a.aDead.Close())
	}
	if a.ps != nil {
		errs = append(errs, a.ps.Close())
	}
	if a.mem != nil {
		errs = append(errs, a.mem.Close())
	}
	if a.gcs != nil {
		errs = append(errs, a.gcs.Close())
	}
	if a.archive != nil {
		a.archive.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	// Syncing stderr fails on some platforms; best effort.
	_ = a.logger.Sync()
}
