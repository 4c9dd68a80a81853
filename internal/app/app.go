// Package app initializes and holds the long-lived services of one command,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/provider-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/provider-directory-crawler/internal/config"
	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	apifetcher "github.com/JakeFAU/provider-directory-crawler/internal/fetcher/api"
	collyfetcher "github.com/JakeFAU/provider-directory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/provider-directory-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/provider-directory-crawler/internal/hash/sha256"
	"github.com/JakeFAU/provider-directory-crawler/internal/id/uuid"
	"github.com/JakeFAU/provider-directory-crawler/internal/normalize"
	"github.com/JakeFAU/provider-directory-crawler/internal/pipeline"
	"github.com/JakeFAU/provider-directory-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/provider-directory-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/memory"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/postgres"
	"github.com/JakeFAU/provider-directory-crawler/internal/validate"
)

// Digest length used in archived page names.
const archiveDigestLength = 16

// App holds the services shared by a command. The database is opened eagerly;
// the search stack is built on first use by Crawler.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	db        postgres.DB
	pool      *pgxpool.Pool
	providers *postgres.ProviderStore
	regions   *postgres.RegionStore

	// crawlProviders and crawlRegions feed the orchestrator. They are the
	// Postgres stores unless a memory store was supplied.
	crawlProviders crawler.ProviderStore
	crawlRegions   crawler.RegionStore

	pubsubOpts []option.ClientOption

	mu      sync.Mutex
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	db         postgres.DB
	memory     *memory.Store
	pubsubOpts []option.ClientOption
}

// WithDB uses db instead of opening a pool from the configured DSN.
func WithDB(db postgres.DB) Option {
	return func(o *options) { o.db = db }
}

// WithMemoryStore runs without a database: the crawler reads regions from and
// writes providers to store. Providers, Regions and Migrate are unavailable.
func WithMemoryStore(store *memory.Store) Option {
	return func(o *options) { o.memory = store }
}

// WithPubSubOptions passes client options to the Pub/Sub publisher.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// New opens the database and builds the stores.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: system.New(), pubsubOpts: o.pubsubOpts}
	if o.memory != nil {
		a.crawlProviders = o.memory
		a.crawlRegions = o.memory
		logger.Info("using in-memory store, nothing will be persisted")
		return a, nil
	}
	a.db = o.db
	if a.db == nil {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.pool = pool
		a.db = pool
		logger.Info("connected to postgres", zap.Int32("max_conns", pool.Config().MaxConns))
	}

	var err error
	if a.providers, err = postgres.NewProviderStore(a.db, a.clock, logger.Named("providers")); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init provider store: %w", err)
	}
	if a.regions, err = postgres.NewRegionStore(a.db, a.clock); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init region store: %w", err)
	}
	a.crawlProviders = a.providers
	a.crawlRegions = a.regions
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// DB returns the handle the stores share.
func (a *App) DB() postgres.DB { return a.db }

// Providers returns the provider store.
func (a *App) Providers() *postgres.ProviderStore { return a.providers }

// Regions returns the region store.
func (a *App) Regions() *postgres.RegionStore { return a.regions }

// Ping checks the database when it is a real pool.
func (a *App) Ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies the schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.db == nil {
		return errors.New("migrate: no database configured")
	}
	return postgres.Migrate(ctx, a.db)
}

// Crawler builds the search source, archive and publisher, and wires them into
// an orchestrator. The resources are released by Close.
func (a *App) Crawler(ctx context.Context, onTransition func(crawler.Region, int, pipeline.State)) (*pipeline.Orchestrator, error) {
	source, name, err := a.searchSource()
	if err != nil {
		return nil, err
	}

	archive, err := storage.OpenArchive(ctx, storage.ArchiveConfig{
		Backend: a.cfg.Archive.Backend,
		Dir:     a.cfg.Archive.Dir,
		Bucket:  a.cfg.Archive.Bucket,
		Prefix:  a.cfg.Archive.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	a.onClose(archive.Close)

	deps := pipeline.Deps{
		Source:       source,
		Store:        a.crawlProviders,
		Regions:      a.crawlRegions,
		Normalizer:   a.normalizer(),
		Validator:    validate.New(),
		Clock:        a.clock,
		IDs:          uuid.New(),
		OnTransition: onTransition,
	}
	if archive.Enabled() {
		deps.Archive = archive
		deps.Hasher = sha256.New(archiveDigestLength)
		a.logger.Info("raw page archive enabled", zap.String("backend", a.cfg.Archive.Backend))
	}

	if a.cfg.PubSub.Enabled() {
		pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicID:   a.cfg.PubSub.TopicID,
		}, a.pubsubOpts...)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		a.onClose(pub.Close)
		deps.Publisher = pub
		a.logger.Info("run notifications enabled", zap.String("topic", a.cfg.PubSub.TopicID))
	}

	orch, err := pipeline.New(deps, pipeline.Config{
		Keyword:           a.cfg.Search.Keyword,
		SourceName:        name,
		MaxPages:          a.cfg.Search.MaxPages,
		PageDelay:         a.cfg.Search.EffectivePageDelay(),
		ContinueOnBlocked: a.cfg.Search.ContinueOnBlocked,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}

func (a *App) searchSource() (crawler.SearchSource, string, error) {
	s := a.cfg.Search
	limiter := ratelimit.New(ratelimit.Config{RPS: s.RateLimitRPS, Burst: s.RateLimitBurst})
	switch s.Source {
	case config.SourceBrowser:
		src, err := headless.NewChromedp(headless.Config{
			BaseURL:           s.BaseURL,
			Endpoint:          s.Endpoint,
			Country:           s.Country,
			UserAgent:         s.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			RequestTimeout:    s.RequestTimeout,
			Attempts:          s.Session.Attempts,
			Step:              s.Session.Backoff,
		}, nil, limiter, a.logger.Named(headless.Name))
		if err != nil {
			return nil, "", fmt.Errorf("init browser source: %w", err)
		}
		a.onClose(func() error {
			src.Close()
			return nil
		})
		return src, headless.Name, nil
	case config.SourceAPI:
		session, err := collyfetcher.New(collyfetcher.Config{
			BaseURL:   s.BaseURL,
			UserAgent: s.UserAgent,
			Timeout:   s.Session.Timeout,
			Attempts:  s.Session.Attempts,
			Step:      s.Session.Backoff,
		}, nil, a.logger.Named("session"))
		if err != nil {
			return nil, "", fmt.Errorf("init session: %w", err)
		}
		src, err := apifetcher.New(apifetcher.Config{
			Endpoint: s.Endpoint,
			Country:  s.Country,
			Timeout:  s.RequestTimeout,
		}, session, limiter, a.logger.Named(apifetcher.Name))
		if err != nil {
			return nil, "", fmt.Errorf("init api source: %w", err)
		}
		return src, apifetcher.Name, nil
	default:
		return nil, "", fmt.Errorf("unknown search source %q", s.Source)
	}
}

func (a *App) normalizer() *normalize.Normalizer {
	return normalize.New(normalize.Options{
		DefaultSpecialty:     a.cfg.Normalize.DefaultSpecialty,
		DefaultSpecialtySlug: a.cfg.Normalize.DefaultSpecialtySlug,
		ProfileBaseURL:       a.cfg.Normalize.ProfileBaseURL,
	})
}

func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of creation and closes the pool.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
