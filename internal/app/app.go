// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/aggregator"
	"github.com/JakeFAU/crawl-registry/internal/api"
	"github.com/JakeFAU/crawl-registry/internal/clock/system"
	"github.com/JakeFAU/crawl-registry/internal/config"
	"github.com/JakeFAU/crawl-registry/internal/coordinator"
	"github.com/JakeFAU/crawl-registry/internal/events"
	"github.com/JakeFAU/crawl-registry/internal/id/uuid"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
	kafkapublisher "github.com/JakeFAU/crawl-registry/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawl-registry/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/crawl-registry/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-registry/internal/storage/memory"
	"github.com/JakeFAU/crawl-registry/internal/storage/postgres"
	"github.com/JakeFAU/crawl-registry/internal/storage/redisstore"
	"github.com/JakeFAU/crawl-registry/internal/telemetry"
)

// ServiceName identifies the registry in logs and traces.
const ServiceName = "crawl-registry"

const (
	tracerShutdownTimeout = 5 * time.Second
	eventsDrainTimeout    = 5 * time.Second
)

// App holds the shared, long-lived services for the registry. It is built once
// at startup by NewApp and torn down with Close.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	store       jobs.RecordStore
	index       jobs.OwnerIndex
	publisher   jobs.Publisher
	coordinator *coordinator.Coordinator
	aggregator  *aggregator.Aggregator
	history     *postgres.HistoryStore
	server      *api.Server
	closers     []func() error
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetCoordinator exposes the lifecycle coordinator.
func (a *App) GetCoordinator() *coordinator.Coordinator {
	return a.coordinator
}

// GetAggregator exposes the listing aggregator.
func (a *App) GetAggregator() *aggregator.Aggregator {
	return a.aggregator
}

// GetServer returns the HTTP API server.
func (a *App) GetServer() *api.Server {
	return a.server
}

// NewApp creates and initializes every service named by cfg. It fails fast if
// a backend cannot be reached; anything opened before the failure is closed.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("initializing registry services",
		zap.String("store", cfg.Store.Backend),
		zap.String("dispatch", cfg.Dispatch.Backend),
		zap.Bool("history", cfg.History.Enabled),
	)

	if cfg.Telemetry.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName:    ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			ProjectID:      cfg.Telemetry.ProjectID,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if tErr != nil {
			return nil, fmt.Errorf("init tracing: %w", tErr)
		}
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	var checks []api.ReadyCheck
	check, err := a.initStore(ctx)
	if err != nil {
		return nil, err
	}
	if check != nil {
		checks = append(checks, check)
	}

	publisher, err := a.initPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.publisher = publisher

	if cfg.History.Enabled {
		history, hErr := postgres.NewHistoryStore(ctx, postgres.HistoryStoreConfig{
			DSN:             cfg.History.DSN,
			Limit:           cfg.History.Limit,
			MaxConns:        cfg.History.MaxConns,
			MinConns:        cfg.History.MinConns,
			MaxConnLifetime: cfg.History.MaxConnLifetime,
		})
		if hErr != nil {
			return nil, fmt.Errorf("init history store: %w", hErr)
		}
		a.history = history
		a.closers = append(a.closers, func() error {
			history.Close()
			return nil
		})
	}

	coordCfg := coordinator.Config{Topic: cfg.Dispatch.Topic}
	if cfg.Events.Enabled {
		hub := events.NewHub(events.Config{
			BufferSize: cfg.Events.BufferSize,
			MaxBatch:   cfg.Events.MaxBatch,
			MaxWait:    cfg.Events.MaxWait,
			Logger:     logger,
		}, events.NewLogSink(logger.Named("events")), events.NewPublisherSink(publisher, cfg.Events.Topic))
		// Registered after the publisher so it drains before the publisher closes.
		a.closers = append(a.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), eventsDrainTimeout)
			defer cancel()
			return hub.Close(closeCtx)
		})
		coordCfg.Events = hub
	}

	clock := system.New()
	a.coordinator = coordinator.New(a.store, a.index, publisher, uuid.New(), clock, coordCfg, logger)
	a.aggregator = aggregator.New(a.store, a.index, clock, aggregator.Config{
		ListTimeout:    cfg.Aggregator.ListTimeout,
		ItemTimeout:    cfg.Aggregator.ItemTimeout,
		MaxConcurrency: cfg.Aggregator.MaxConcurrency,
	}, logger)

	// A nil *HistoryStore must not reach the server as a non-nil interface.
	var history api.HistoryReader
	if a.history != nil {
		history = a.history
	}
	a.server = api.NewServer(a.coordinator, a.aggregator, history, cfg, logger, checks...)

	logger.Info("registry services initialized")
	return a, nil
}

func (a *App) initStore(ctx context.Context) (api.ReadyCheck, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.store = memory.NewJobStore()
		a.index = memory.NewOwnerIndex()
		return nil, nil
	case config.BackendRedis:
		rc := a.cfg.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
		}
		a.logger.Info("connected to redis", zap.String("addr", rc.Addr), zap.Int("db", rc.DB))
		a.store = redisstore.NewJobStore(client, redisstore.JobStoreConfig{
			Prefix:     rc.Prefix,
			MaxRetries: rc.MaxRetries,
		})
		a.index = redisstore.NewOwnerIndex(client, rc.Prefix)
		return func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
}

func (a *App) initPublisher(ctx context.Context) (jobs.Publisher, error) {
	dc := a.cfg.Dispatch
	switch dc.Backend {
	case config.DispatchMemory:
		return memorypublisher.New(), nil
	case config.DispatchPubSub:
		client, err := pubsub.NewClient(ctx, dc.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		p := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() error {
			p.Close()
			return client.Close()
		})
		a.logger.Info("dispatching to pubsub", zap.String("project", dc.PubSub.ProjectID), zap.String("topic", dc.Topic))
		return p, nil
	case config.DispatchKafka:
		p, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      dc.Kafka.Brokers,
			BatchTimeout: dc.Kafka.BatchTimeout,
		}, system.New())
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("dispatching to kafka", zap.Strings("brokers", dc.Kafka.Brokers), zap.String("topic", dc.Topic))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown dispatch backend: %s", dc.Backend)
	}
}

// Close shuts down every service in reverse order of creation and flushes the
// logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing registry services", zap.Error(err))
	}
	// Sync fails on stdout/stderr for some platforms; nothing useful to do then.
	_ = a.logger.Sync()
}

// Reconcile repairs owner index skew for one team.
func (a *App) Reconcile(ctx context.Context, teamID string) (coordinator.ReconcileReport, error) {
	return a.coordinator.Reconcile(ctx, teamID)
}
