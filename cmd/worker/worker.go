package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/aggregate"
	"github.com/voltmon/energy-usage-worker/internal/alert"
	"github.com/voltmon/energy-usage-worker/internal/config"
	"github.com/voltmon/energy-usage-worker/internal/db"
	"github.com/voltmon/energy-usage-worker/internal/httpapi"
	"github.com/voltmon/energy-usage-worker/internal/kafka"
	"github.com/voltmon/energy-usage-worker/internal/mq"
	"github.com/voltmon/energy-usage-worker/internal/registry"
	"github.com/voltmon/energy-usage-worker/internal/repository"
	"github.com/voltmon/energy-usage-worker/internal/service"
	"github.com/voltmon/energy-usage-worker/internal/timeseries"
	"github.com/voltmon/energy-usage-worker/internal/usagequery"
	"github.com/voltmon/energy-usage-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	repo *repository.Repository,
	engine *aggregate.Engine,
	processor *service.ProcessorService,
	monitor *alert.Monitor,
	api *httpapi.Server,
) error {
	// Context shared by the consumers and the monitor, cancelled on shutdown.
	runCtx, cancel := context.WithCancel(context.Background())

	consumers := make([]*kafka.Consumer, cfg.Kafka.ConsumerCount)
	for i := range consumers {
		consumer, err := kafka.NewConsumer(
			fmt.Sprintf("consumer-%d", i),
			cfg.Kafka,
			processor.ProcessMessage,
			logger,
		)
		if err != nil {
			cancel()
			return err
		}
		consumers[i] = consumer
	}

	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			// Rebuild the current hour's aggregates before consuming so
			// the first sweep does not observe an empty store.
			if err := engine.Recover(startCtx, repo, time.Now()); err != nil {
				return err
			}

			logger.Info("starting usage stream consumers",
				zap.String("topic", cfg.Kafka.Topic),
				zap.Int("consumer_count", cfg.Kafka.ConsumerCount),
			)
			for _, consumer := range consumers {
				wg.Add(1)
				go func(c *kafka.Consumer) {
					defer wg.Done()
					if err := c.Consume(runCtx); err != nil {
						logger.Error("consumer exited with error", zap.Error(err))
					}
				}(consumer)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				monitor.Run(runCtx)
			}()

			api.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()

			for _, consumer := range consumers {
				if err := consumer.Close(); err != nil {
					logger.Error("failed to close consumer", zap.Error(err))
				}
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				logger.Info("worker stopped gracefully")
			case <-stopCtx.Done():
				logger.Warn("shutdown timed out waiting for in-flight work")
			}

			return api.Stop(stopCtx)
		},
	})

	return nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideTimeSeriesClient creates the InfluxDB client
func ProvideTimeSeriesClient(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*timeseries.Client, error) {
	client, err := timeseries.NewClient(cfg.InfluxDB, cfg.Retry, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

// ProvideBucketStore creates the in-memory aggregate store
func ProvideBucketStore() *aggregate.BucketStore {
	return aggregate.NewBucketStore()
}

// ProvideUserLookup creates the TTL-cached user profile lookup
func ProvideUserLookup(repo *repository.Repository, cfg *config.Config) *registry.UserLookup {
	return registry.NewUserLookup(repo, cfg.Monitor.ProfileCacheTTL)
}

// ProvideDeviceLookup creates the TTL-cached device ownership lookup
func ProvideDeviceLookup(repo *repository.Repository, cfg *config.Config) *registry.DeviceLookup {
	return registry.NewDeviceLookup(repo, cfg.Monitor.DeviceCacheTTL)
}

// ProvideValidator creates a new reading validator
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.MaxFutureSkewMinutes)
}

// ProvideEngine creates the aggregation engine
func ProvideEngine(
	devices *registry.DeviceLookup,
	series *timeseries.Client,
	repo *repository.Repository,
	store *aggregate.BucketStore,
	logger *zap.Logger,
) *aggregate.Engine {
	return aggregate.NewEngine(devices, series, repo, store, logger)
}

// ProvideProcessorService creates the stream message processor
func ProvideProcessorService(engine *aggregate.Engine, v *validator.Validator, logger *zap.Logger) *service.ProcessorService {
	return service.NewProcessorService(engine, v, logger)
}

// ProvideAlertPublisher creates the alert stream publisher
func ProvideAlertPublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(mq.PublisherConfig{
		Connection:  conn,
		Exchange:    cfg.RabbitMQ.AlertExchange,
		RoutingKey:  cfg.RabbitMQ.AlertRoutingKey,
		MaxAttempts: cfg.Retry.PublishMaxAttempts,
		Backoff:     cfg.Retry.PublishBackoff,
		Logger:      logger,
	})
}

// ProvideDeduplicator creates the alert de-duplication gate
func ProvideDeduplicator(repo *repository.Repository) *alert.Deduplicator {
	return alert.NewDeduplicator(repo)
}

// ProvideDispatcher creates the alert dispatcher
func ProvideDispatcher(publisher *mq.Publisher, repo *repository.Repository, logger *zap.Logger) *alert.Dispatcher {
	return alert.NewDispatcher(publisher, repo, logger)
}

// ProvideMonitor creates the threshold monitor
func ProvideMonitor(
	users *registry.UserLookup,
	store *aggregate.BucketStore,
	dedup *alert.Deduplicator,
	dispatcher *alert.Dispatcher,
	repo *repository.Repository,
	cfg *config.Config,
	logger *zap.Logger,
) *alert.Monitor {
	return alert.NewMonitor(alert.MonitorConfig{
		Profiles:       users,
		Buckets:        store,
		Deduplicator:   dedup,
		Dispatcher:     dispatcher,
		Pruner:         repo,
		Interval:       cfg.Monitor.Interval,
		RetentionHours: cfg.Monitor.RetentionHours,
		Logger:         logger,
	})
}

// ProvideUsageQueryService creates the usage query projection
func ProvideUsageQueryService(repo *repository.Repository, series *timeseries.Client, logger *zap.Logger) *usagequery.Service {
	return usagequery.NewService(repo, series, logger)
}

// ProvideHTTPServer creates the HTTP surface for usage queries
func ProvideHTTPServer(cfg *config.Config, usage *usagequery.Service, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.ServicePort, usage, logger)
}
