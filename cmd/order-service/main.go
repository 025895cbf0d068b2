// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/bootstrap"
	"eatcloud/internal/pkg/config"
	"eatcloud/internal/pkg/httpclient"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
	"eatcloud/internal/pkg/redis"
	"eatcloud/internal/pkg/topics"
	"eatcloud/internal/pkg/wshub"
	"eatcloud/internal/service/order/application"
	"eatcloud/internal/service/order/application/saga"
	"eatcloud/internal/service/order/domain/port"
	"eatcloud/internal/service/order/infrastructure"
	"eatcloud/internal/service/order/infrastructure/adapter"
	"eatcloud/internal/service/order/interfaces"
	"eatcloud/internal/tracing"
)

const serviceName = "order-service"

// main is the composition root: it builds every dependency and hands them to bootstrap.
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
	if settings.Lock.Backend == "redis" || settings.Cart.Backend == "redis" {
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

	// one topic-less writer serves requests, retries and dead letters
	writer := mq.NewKafkaWriter(settings.Kafka.Brokers, "")
	producer := mq.NewJSONProducer(writer)
	failure := mq.NewFailureHandler(writer, settings.Kafka.MaxRetries)

	regs := adapter.NewRegistries()
	points := adapter.NewPointKafkaAdapter(producer, regs, settings.Saga.ReplyTimeout)
	payments := adapter.NewPaymentKafkaAdapter(producer, regs, settings.Saga.ReplyTimeout)

	var cart port.CartService
	switch settings.Cart.Backend {
	case "http":
		var resolver httpclient.Resolver
		if nacosClient != nil {
			resolver = nacosClient
		}
		cart = adapter.NewCartHTTPAdapter(httpclient.NewClient(nil, resolver), settings.Cart.Service)
	default:
		cart = adapter.NewCartRedisAdapter(redisClient)
	}

	policy, err := saga.NewPointsPolicy(settings.Saga.PointsRule)
	if err != nil {
		log.Fatal().Err(err).Msg("points policy")
	}

	uow := infrastructure.NewUnitOfWork(db, outbox.NewAppender())
	orders := application.NewOrderApplicationService(uow, locks, cart, points, payments, policy, application.SagaConfig{
		LockWait:  settings.Saga.LockWait,
		LockLease: settings.Saga.LockLease,
		Timeout:   settings.Saga.ProcessingTimeout,
	})
	compensation := application.NewCompensationService(uow, adapter.NewCancelKafkaEmitter(producer))
	outcomes := application.NewPaymentOutcomeService(uow)

	mapping, err := bootstrap.TopicMapping(settings.Outbox)
	if err != nil {
		log.Fatal().Err(err).Msg("outbox topic mapping")
	}
	broker := outbox.NewKafkaBroker(settings.Kafka.Brokers)
	publisher := outbox.NewPublisher(outbox.NewRepository(db), broker, mapping, settings.Outbox.BatchSize, settings.Outbox.PollInterval)

	hub := wshub.New()
	brokers := settings.Kafka.Brokers
	group := settings.Kafka.GroupID

	// Replies are matched in memory, so every instance reads every reply in its own group.
	instance, _ := os.Hostname()
	replyGroup := group + ".replies." + instance

	consume := func(name, topic, groupID string, h mq.HandlerFunc, fh *mq.FailureHandler) bootstrap.Worker {
		c := mq.NewConsumer(name, mq.NewKafkaReader(brokers, topic, groupID), h, fh)
		return bootstrap.Worker{Name: name, Run: c.Run}
	}
	workers := []bootstrap.Worker{
		{Name: "outbox-publisher", Run: publisher.Run},
		consume("point-reservation-replies", topics.PointReservationResponse, replyGroup, adapter.ResponseHandler(regs.PointReserve), nil),
		consume("point-cancel-replies", topics.PointReservationCancelResponse, replyGroup, adapter.ResponseHandler(regs.PointCancel), nil),
		consume("payment-replies", topics.PaymentRequestResponse, replyGroup, adapter.ResponseHandler(regs.Payment), nil),
		consume("payment-cancel-replies", topics.PaymentRequestCancelResponse, replyGroup, adapter.ResponseHandler(regs.PaymentCancel), nil),
		consume("stock-shortage", topics.StockEvents, group, interfaces.StockShortageHandler(compensation), failure),
		consume("payment-completed", topics.PaymentCompleted, group, interfaces.PaymentCompletedHandler(outcomes), failure),
		consume("payment-failed", topics.PaymentFailed, group, interfaces.PaymentFailedHandler(outcomes), failure),
		{
			Name: "dead-letter-alerts",
			Run: mq.NewConsumer("dead-letter-alerts",
				mq.NewGroupReader(brokers, topics.DeadLetters(topics.Consumed...), group+".dlt"),
				interfaces.DeadLetterHandler(hub), nil).Run,
		},
	}
	for _, reg := range regs.All() {
		workers = append(workers, bootstrap.Worker{
			Name: reg.Kind() + "-janitor",
			Run:  func(ctx context.Context) error { return reg.RunJanitor(ctx, adapter.DefaultJanitorInterval) },
		})
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		Settings: settings,
		Nacos:    nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(orders).RegisterRoutes(appCtx.Mux)
			appCtx.Mux.Handle("/ops/alerts", hub)
		},
		Workers: workers,
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
			func(context.Context) error {
				hub.Close()
				return nil
			},
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("order service stopped with error")
	}
}
