// Package app wires configuration into a ready-to-run crawl engine. It owns
// every long-lived client (storage, database, pub/sub) and closes them.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/cache/gcs"
	"github.com/JakeFAU/snowball-crawler/internal/cache/local"
	"github.com/JakeFAU/snowball-crawler/internal/cache/memory"
	"github.com/JakeFAU/snowball-crawler/internal/cache/sqlite"
	"github.com/JakeFAU/snowball-crawler/internal/checkpoint"
	"github.com/JakeFAU/snowball-crawler/internal/checkpoint/file"
	"github.com/JakeFAU/snowball-crawler/internal/checkpoint/postgres"
	"github.com/JakeFAU/snowball-crawler/internal/clock/system"
	"github.com/JakeFAU/snowball-crawler/internal/config"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/fetch"
	"github.com/JakeFAU/snowball-crawler/internal/hash/sha256"
	"github.com/JakeFAU/snowball-crawler/internal/id/uuid"
	"github.com/JakeFAU/snowball-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/snowball-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/snowball-crawler/internal/riot"
)

// App holds the engine and the resources backing it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	runID      string
	engine     *crawler.Engine
	checkpoint crawler.CheckpointStore
	closers    []func() error
}

// New builds every dependency named by cfg and the engine on top of them.
// On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.Warn("close after failed startup", zap.Error(cerr))
			}
		}
	}()

	a.runID, err = uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	recordCache, closeCache, err := OpenCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.addCloser(closeCache)

	store, closeStore, err := OpenCheckpoint(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	a.addCloser(closeStore)
	a.checkpoint = store

	var publisher crawler.Publisher
	if cfg.Publish.Enabled {
		pub, err := gcppublisher.Dial(ctx, cfg.Publish.ProjectID)
		if err != nil {
			return nil, err
		}
		a.addCloser(pub.Close)
		publisher = pub
	}

	client := riot.NewClient(fetch.NewClient(fetch.Options{
		BaseURL:     cfg.BaseURL(),
		Header:      riot.Header(cfg.API.Key),
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Transport:   fetch.NewCollyTransport(cfg.Fetch.UserAgent, cfg.API.Timeout),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Fetch.RequestsPerSecond,
			DefaultBurst: cfg.Fetch.Burst,
			RouteRPS:     cfg.Fetch.RouteRPS,
		}),
		Logger: logger.Named("fetch"),
	}))
	filter := riot.NewMatchFilter(cfg.Filter.Patch, cfg.Filter.QueueIDs)

	topic := ""
	if publisher != nil {
		topic = cfg.Publish.Topic
	}
	a.engine, err = crawler.NewEngine(crawler.Config{
		Target:       cfg.Crawler.Target,
		ListLimit:    cfg.Crawler.ListCount,
		Pacing:       cfg.Crawler.Pacing,
		MaxQueueSize: cfg.Crawler.MaxQueueSize,
		SaveEvery:    cfg.Crawler.SaveEvery,
		Topic:        topic,
		RunID:        a.runID,
	}, crawler.Dependencies{
		Source:     client,
		Classifier: filter,
		Extractor:  filter,
		Tagger:     filter,
		Resolver:   client,
		Cache:      recordCache,
		Checkpoint: store,
		Publisher:  publisher,
		Clock:      system.New(),
	}, logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	logger.Info("application ready",
		zap.String("run_id", a.runID),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("checkpoint", cfg.Checkpoint.Backend),
		zap.Bool("publish", publisher != nil),
		zap.String("base_url", cfg.BaseURL()),
	)
	return a, nil
}

// Engine returns the configured crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Checkpoint returns the configured checkpoint store.
func (a *App) Checkpoint() crawler.CheckpointStore {
	return a.checkpoint
}

// RunID identifies this process's crawl run.
func (a *App) RunID() string {
	return a.runID
}

// Seeds returns args when given, otherwise the configured seeds.
func (a *App) Seeds(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return a.cfg.Crawler.Seeds
}

// Close releases resources in reverse order of acquisition.
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

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// OpenCache builds the record cache selected by cfg.Backend.
func OpenCache(ctx context.Context, cfg config.CacheConfig) (crawler.RecordCache, func() error, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return memory.New(), nil, nil
	case config.CacheLocal:
		c, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local cache: %w", err)
		}
		return c, nil, nil
	case config.CacheSQLite:
		c, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return c, c.Close, nil
	case config.CacheGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		c, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs cache: %w", err)
		}
		return c, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// OpenCheckpoint builds the checkpoint store selected by cfg.Backend.
func OpenCheckpoint(ctx context.Context, cfg config.CheckpointConfig) (crawler.CheckpointStore, func() error, error) {
	switch cfg.Backend {
	case config.CheckpointFile:
		store, err := file.New(cfg.Path, checkpoint.NewCodec(sha256.New(), true))
		if err != nil {
			return nil, nil, fmt.Errorf("open file checkpoint: %w", err)
		}
		return store, nil, nil
	case config.CheckpointPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:   cfg.DSN,
			Table: cfg.Table,
			Name:  cfg.Name,
		}, checkpoint.NewCodec(sha256.New(), false))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres checkpoint: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
