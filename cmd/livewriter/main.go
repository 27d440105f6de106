package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/ingest"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/queue"
	"github.com/smukkama/egg-grader/pkg/config"
	"github.com/smukkama/egg-grader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(logger.New(cfg.Log.Level)).Named("livewriter")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting live writer service")

	db, err := database.Connect(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, "livewriter-group")
	defer consumer.Close()

	writer := ingest.NewWriter(db, livestore.NewStore(redisClient), log)
	batchWriter := queue.NewBatchWriter(consumer, writer, 100, time.Second, log)
	batchWriter.Start(context.Background())

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := consumer.Stats()
			log.Info("consumer statistics",
				zap.Int64("messages", stats.Messages),
				zap.Int64("bytes", stats.Bytes),
				zap.Int64("errors", stats.Errors),
				zap.Int64("lag", stats.Lag))
		}
	}()

	log.Info("live writer running", zap.String("topic", cfg.Kafka.TopicReadings))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	batchWriter.Stop()
}
