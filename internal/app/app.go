// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/aggregator"
	"github.com/antonlok/aggregator-threadpool/internal/api"
	"github.com/antonlok/aggregator-threadpool/internal/clock/system"
	"github.com/antonlok/aggregator-threadpool/internal/config"
	collyfetcher "github.com/antonlok/aggregator-threadpool/internal/fetcher/colly"
	"github.com/antonlok/aggregator-threadpool/internal/hash/sha256"
	"github.com/antonlok/aggregator-threadpool/internal/id/uuid"
	"github.com/antonlok/aggregator-threadpool/internal/index"
	"github.com/antonlok/aggregator-threadpool/internal/news"
	"github.com/antonlok/aggregator-threadpool/internal/policy/ratelimit"
	"github.com/antonlok/aggregator-threadpool/internal/publisher/pubsub"
	"github.com/antonlok/aggregator-threadpool/internal/snapshot"
	"github.com/antonlok/aggregator-threadpool/internal/storage/gcs"
	"github.com/antonlok/aggregator-threadpool/internal/storage/local"
	"github.com/antonlok/aggregator-threadpool/internal/storage/memory"
	"github.com/antonlok/aggregator-threadpool/internal/storage/postgres"
)

// Loaders bundles the ports the aggregator reads feeds and documents through.
type Loaders struct {
	Lists news.FeedListLoader
	Feeds news.FeedLoader
	Docs  news.DocumentLoader
}

// Option customizes how New wires the container.
type Option func(*options)

type options struct {
	loaders   *Loaders
	blobs     news.BlobStore
	sink      snapshot.IndexSink
	publisher news.Publisher
	closers   []func() error
}

// WithLoaders replaces the colly-backed loaders.
func WithLoaders(l Loaders) Option {
	return func(o *options) { o.loaders = &l }
}

// WithBlobStore overrides the blob store chosen by storage.backend.
func WithBlobStore(store news.BlobStore) Option {
	return func(o *options) { o.blobs = store }
}

// WithIndexSink overrides the Postgres sink chosen by db.dsn.
func WithIndexSink(sink snapshot.IndexSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithCloser registers fn to run when the App is closed, after every service
// New created.
func WithCloser(fn func() error) Option {
	return func(o *options) { o.closers = append(o.closers, fn) }
}

// WithPublisher overrides the Pub/Sub publisher chosen by pubsub.project_id.
func WithPublisher(p news.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by the command that built it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	index      *index.Index
	aggregator *aggregator.Aggregator
	exporter   *snapshot.Exporter
	closers    []func() error
}

// New builds every service named by cfg. It fails fast if any configured
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, index: index.New()}
	a.closers = append(a.closers, o.closers...)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loaders := o.loaders
	if loaders == nil {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RateLimitPerHost,
			DefaultBurst: cfg.HTTP.RateLimitBurst,
		})
		fetcher := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.RequestTimeout(),
		}, limiter, logger.Named("fetcher"))
		loaders = &Loaders{Lists: fetcher, Feeds: fetcher, Docs: fetcher}
	}

	a.aggregator, err = aggregator.New(aggregator.Config{
		FeedListURI:    cfg.Aggregator.FeedListURL,
		FeedWorkers:    cfg.Aggregator.FeedWorkers,
		ArticleWorkers: cfg.Aggregator.ArticleWorkers,
	}, loaders.Lists, loaders.Feeds, loaders.Docs, a.index, logger.Named("aggregator"))
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}
	a.closers = append(a.closers, func() error {
		a.aggregator.Close()
		return nil
	})

	var exportOpts []snapshot.Option
	blobs := o.blobs
	if blobs == nil {
		if blobs, err = a.openBlobStore(ctx); err != nil {
			return nil, err
		}
	}
	if blobs != nil {
		exportOpts = append(exportOpts, snapshot.WithBlobStore(blobs))
	}

	sink := o.sink
	if sink == nil && cfg.DB.DSN != "" {
		store, dbErr := postgres.NewIndexStore(ctx, postgres.Config{DSN: cfg.DB.DSN, TablePrefix: cfg.DB.TablePrefix})
		if dbErr != nil {
			return nil, fmt.Errorf("initialize index store: %w", dbErr)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		if dbErr := store.EnsureSchema(ctx); dbErr != nil {
			return nil, fmt.Errorf("ensure index schema: %w", dbErr)
		}
		logger.Info("persisting index to postgres", zap.String("table_prefix", cfg.DB.TablePrefix))
		sink = store
	}
	if sink != nil {
		exportOpts = append(exportOpts, snapshot.WithIndexSink(sink))
	}

	pub := o.publisher
	if pub == nil && cfg.PubSub.TopicName != "" {
		p, psErr := pubsub.Dial(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			return nil, fmt.Errorf("initialize pubsub: %w", psErr)
		}
		a.closers = append(a.closers, p.Close)
		logger.Info("publishing build notifications", zap.String("topic", cfg.PubSub.TopicName))
		pub = p
	}
	if pub != nil {
		exportOpts = append(exportOpts, snapshot.WithPublisher(pub))
	}

	a.exporter, err = snapshot.New(snapshot.Config{
		Prefix: cfg.Storage.Prefix,
		Topic:  cfg.PubSub.TopicName,
	}, sha256.New(), system.New(), uuid.New(), logger.Named("snapshot"), exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context) (news.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local storage: %w", err)
		}
		a.logger.Info("writing snapshots to disk", zap.String("base_dir", a.cfg.Storage.BaseDir))
		return store, nil
	case config.BackendGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("initialize gcs storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("writing snapshots to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

// Config returns the validated configuration the container was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Index returns the index the aggregator builds into.
func (a *App) Index() *index.Index {
	return a.index
}

// Aggregator returns the feed aggregator.
func (a *App) Aggregator() *aggregator.Aggregator {
	return a.aggregator
}

// Build crawls every feed into the index.
func (a *App) Build(ctx context.Context) (aggregator.Stats, error) {
	err := a.aggregator.BuildIndex(ctx)
	return a.aggregator.Stats(), err
}

// Export writes the built index to the configured targets. It is a no-op
// when none are configured.
func (a *App) Export(ctx context.Context) (snapshot.Result, error) {
	if !a.exporter.Enabled() {
		return snapshot.Result{}, nil
	}
	return a.exporter.Export(ctx, a.index)
}

// Server returns an HTTP server over the index.
func (a *App) Server() *api.Server {
	return api.NewServer(a.index, a.aggregator, a.logger.Named("api"))
}

// Close releases every service in reverse order of creation. The logger is
// owned by the caller.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
