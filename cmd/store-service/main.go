// cmd/store-service/main.go
package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog/log"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/bootstrap"
	"eatcloud/internal/pkg/config"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
	"eatcloud/internal/pkg/redis"
	"eatcloud/internal/pkg/topics"
	"eatcloud/internal/service/store/application"
	"eatcloud/internal/service/store/infrastructure"
	"eatcloud/internal/service/store/interfaces"
	"eatcloud/internal/tracing"
)

const serviceName = "store-service"

func main() {
	configDir := flag.String("config", "config", "directory holding "+serviceName+".yaml")
	flag.Parse()

	settings, err := config.Load(*configDir, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init(settings.App.Name, settings.Log.Level, settings.Log.Pretty)
	ctx := context.Background()

	tp, err := tracing.InitTracerProvider(settings.App.Name, settings.Jaeger.Endpoint, settings.Jaeger.Ratio)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	db, err := bootstrap.OpenMySQL(settings.MySQL, infrastructure.Models()...)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("database pool")
	}

	var redisClient *redis.Client
	if settings.Lock.Backend == "redis" {
		if redisClient, err = redis.NewClient(ctx, settings.Redis.Addrs); err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
	}
	locks, closeLocks, err := bootstrap.NewLockManager(settings, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("init locks")
	}
	nacosClient, err := bootstrap.NewNacos(settings.Nacos)
	if err != nil {
		log.Fatal().Err(err).Msg("init nacos")
	}

	uow := infrastructure.NewUnitOfWork(db, outbox.NewAppender())
	inventory := application.NewInventoryService(uow, locks, application.InventoryConfig{
		LockWait:       settings.Inventory.LockWait,
		LockLease:      settings.Inventory.LockLease,
		ReservationTTL: settings.Inventory.ReservationTTL,
	})
	projector := application.NewProjector(uow)
	replayer := application.NewReplayer(uow)
	sweeper := application.NewSweeper(uow, inventory, settings.Inventory.SweepInterval, settings.Inventory.SweepBatch)

	mapping, err := bootstrap.TopicMapping(settings.Outbox)
	if err != nil {
		log.Fatal().Err(err).Msg("outbox topic mapping")
	}
	broker := outbox.NewKafkaBroker(settings.Kafka.Brokers)
	publisher := outbox.NewPublisher(outbox.NewRepository(db), broker, mapping, settings.Outbox.BatchSize, settings.Outbox.PollInterval)

	writer := mq.NewKafkaWriter(settings.Kafka.Brokers, "")
	failure := mq.NewFailureHandler(writer, settings.Kafka.MaxRetries)
	consume := func(name, topic string, h mq.HandlerFunc, opts ...mq.ConsumerOption) bootstrap.Worker {
		c := mq.NewConsumer(name, mq.NewKafkaReader(settings.Kafka.Brokers, topic, settings.Kafka.GroupID), h, failure, opts...)
		return bootstrap.Worker{Name: name, Run: c.Run}
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		Settings: settings,
		Nacos:    nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewInventoryHandler(inventory, projector, replayer).RegisterRoutes(appCtx.Mux)
		},
		Workers: []bootstrap.Worker{
			{Name: "outbox-publisher", Run: publisher.Run},
			{Name: "reservation-sweeper", Run: sweeper.Run},
			consume("order-created", topics.OrderCreated, interfaces.OrderCreatedHandler(inventory)),
			consume("order-cancelled", topics.OrderCancelled, interfaces.OrderCancelledHandler(inventory)),
			// projection folds must see one SKU's events in publish order
			consume("stock-projection", topics.StockEvents, interfaces.StockEventHandler(projector),
				mq.WithInPlaceRetry(settings.Kafka.MaxRetries, settings.Kafka.RetryBackoff)),
		},
		Cleanup: []func(ctx context.Context) error{
			tp.Shutdown,
			func(context.Context) error { return sqlDB.Close() },
			func(context.Context) error {
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
			closeLocks,
			func(context.Context) error { return writer.Close() },
			func(context.Context) error { return broker.Close() },
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("store service stopped with error")
	}
}
