package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/notification"
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

	log := logger.Must(logger.New(cfg.Log.Level)).Named("notification")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting notification service")

	email := notification.NewEmailNotifier(&cfg.SMTP, log)
	if err := email.TestConnection(); err != nil {
		log.Warn("email channel unavailable, notifications will be logged only", zap.Error(err))
	}

	push := notification.NewPushNotifier(cfg.Push, log)
	if !push.Configured() {
		log.Warn("no push tokens configured")
	}

	dispatcher := notification.NewDispatcher(log, email, push)

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, "notification-group")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		queue.RunConsumer(ctx, consumer, func(ctx context.Context, msg kafka.Message) error {
			req, err := protocol.DecodeNotificationRequest(msg.Value)
			if err != nil {
				return queue.Permanent(err)
			}
			return dispatcher.Dispatch(ctx, req)
		}, log)
	}()

	log.Info("notification service running", zap.String("topic", cfg.Kafka.TopicNotifications))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	<-done
}
