package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/alerting"
	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/internal/queue"
	"github.com/smukkama/egg-grader/pkg/config"
	"github.com/smukkama/egg-grader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(logger.New(cfg.Log.Level)).Named("alerting")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting alerting service")

	db, err := database.Connect(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, "alerting-group")
	defer consumer.Close()

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()

	evaluator := alerting.NewEvaluator(
		livestore.NewStore(redisClient),
		alerting.NewRedisCooldown(redisClient, cfg.Grading.NotificationCooldown),
		db,
		producer,
		log,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		queue.RunConsumer(ctx, consumer, func(ctx context.Context, msg kafka.Message) error {
			snap, err := protocol.DecodeReadingSnapshot(msg.Value)
			if err != nil {
				return queue.Permanent(err)
			}
			_, err = evaluator.Evaluate(ctx, snap)
			return err
		}, log)
	}()

	log.Info("alerting service running",
		zap.String("topic", cfg.Kafka.TopicReadings),
		zap.Duration("cooldown", cfg.Grading.NotificationCooldown))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	<-done
}
