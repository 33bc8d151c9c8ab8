// Package main wires together the lead discovery worker binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/clock/system"
	"github.com/leadharvest/leadharvest/internal/config"
	"github.com/leadharvest/leadharvest/internal/contact"
	contactmem "github.com/leadharvest/leadharvest/internal/contact/memory"
	contactpg "github.com/leadharvest/leadharvest/internal/contact/postgres"
	"github.com/leadharvest/leadharvest/internal/directory"
	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/enrich"
	"github.com/leadharvest/leadharvest/internal/fetch"
	"github.com/leadharvest/leadharvest/internal/identity"
	identitymem "github.com/leadharvest/leadharvest/internal/identity/memory"
	identitypg "github.com/leadharvest/leadharvest/internal/identity/postgres"
	"github.com/leadharvest/leadharvest/internal/logging"
	pubmem "github.com/leadharvest/leadharvest/internal/publisher/memory"
	pubps "github.com/leadharvest/leadharvest/internal/publisher/pubsub"
	queuemem "github.com/leadharvest/leadharvest/internal/queue/memory"
	queuepg "github.com/leadharvest/leadharvest/internal/queue/postgres"
	snapgcs "github.com/leadharvest/leadharvest/internal/snapshot/gcs"
	snaplocal "github.com/leadharvest/leadharvest/internal/snapshot/local"
	snapmem "github.com/leadharvest/leadharvest/internal/snapshot/memory"
	"github.com/leadharvest/leadharvest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	gate := fetch.NewGate(cfg.MinInterval())
	fetcher := fetch.New(cfg.FetchConfig(), gate, logging.Named(logger, "fetch"))
	parser := directory.NewParser(clock)
	crawler := directory.NewCrawler(fetcher, parser, cfg.CrawlerConfig(), logging.Named(logger, "directory"))

	queue, businesses, linker, contacts, closeStores, err := buildStores(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeStores()

	resolver := identity.NewResolver(businesses, linker, clock, logging.Named(logger, "identity"))
	extractor := contact.NewExtractor(logging.Named(logger, "contact"))

	snapshots, err := buildSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	deps := worker.Deps{
		Queue:     queue,
		Crawler:   crawler,
		Resolver:  resolver,
		Extractor: extractor,
		Contacts:  contacts,
		Snapshots: snapshots,
		Publisher: publisher,
		Policy:    cfg.RefreshPolicy(),
		Clock:     clock,
	}
	if cfg.Enrich.Enabled {
		limiter := enrich.NewDomainLimiter(cfg.LimiterConfig())
		deps.Prober = enrich.NewProber(cfg.ProberConfig(), extractor, limiter, logging.Named(logger, "enrich"))
	}

	w := worker.New(deps, worker.Config{
		MaxPagesPerKeyword: cfg.Directory.MaxPages,
		QuotaUnitsPerPage:  cfg.Worker.QuotaUnitsPerPage,
		PollInterval:       cfg.PollInterval(),
		CompletionTopic:    cfg.Worker.CompletionTopic,
		SnapshotPrefix:     cfg.Snapshot.Prefix,
		ContentType:        cfg.Snapshot.ContentType,
	}, logging.Named(logger, "worker"))

	logger.Info("worker started",
		zap.String("directory", cfg.Directory.BaseURL),
		zap.Bool("postgres", cfg.DB.DSN != ""))
	w.Run(ctx)
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, clock discovery.Clock) (
	discovery.JobQueue,
	discovery.BusinessStore,
	discovery.ScopeLinker,
	discovery.ContactStore,
	func(),
	error,
) {
	if cfg.DB.DSN == "" {
		queue := queuemem.New(clock)
		businesses := identitymem.New()
		return queue, businesses, businesses, contactmem.New(), func() {}, nil
	}

	queue, err := queuepg.New(ctx, queuepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("init job queue: %w", err)
	}
	businesses, err := identitypg.New(ctx, identitypg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		queue.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("init business store: %w", err)
	}
	contacts, err := contactpg.New(ctx, contactpg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		queue.Close()
		businesses.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("init contact store: %w", err)
	}
	closeAll := func() {
		contacts.Close()
		businesses.Close()
		queue.Close()
	}
	return queue, businesses, businesses, contacts, closeAll, nil
}

func buildSnapshotStore(ctx context.Context, cfg config.Config) (discovery.SnapshotStore, error) {
	switch cfg.Snapshot.Backend {
	case "local":
		store, err := snaplocal.New(snaplocal.Config{BaseDir: cfg.Snapshot.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshot store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := snapgcs.New(client, snapgcs.Config{Bucket: cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshot store: %w", err)
		}
		return store, nil
	default:
		return snapmem.NewStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (discovery.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return pubmem.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubps.New(client)
	if err != nil {
		return nil, nil, fmt.Errorf("init publisher: %w", err)
	}
	closeAll := func() {
		pub.Close()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pub, closeAll, nil
}
