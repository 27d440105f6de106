package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/connection"
	"github.com/smukkama/egg-grader/internal/queue"
	"github.com/smukkama/egg-grader/internal/server"
	"github.com/smukkama/egg-grader/internal/timer"
	"github.com/smukkama/egg-grader/pkg/config"
	"github.com/smukkama/egg-grader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(logger.New(cfg.Log.Level)).Named("server")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting grader ingest server")

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1, log); err != nil {
		log.Warn("topic creation failed", zap.String("topic", cfg.Kafka.TopicReadings), zap.Error(err))
	}
	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.NumPartitions, 1, log); err != nil {
		log.Warn("topic creation failed", zap.String("topic", cfg.Kafka.TopicNotifications), zap.Error(err))
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
	defer producer.Close()

	connManager := connection.NewManager(cfg.TCPServer.MaxConnections)

	timerManager := timer.NewManager(4)
	timerManager.Start()
	defer timerManager.Stop()

	tcpServer := server.NewTCPServer(&cfg.TCPServer, connManager, timerManager, producer, log)
	if err := tcpServer.Start(); err != nil {
		log.Fatal("failed to start tcp server", zap.Error(err))
	}
	defer tcpServer.Stop()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			for _, id := range connManager.GetInactiveConnections(2 * cfg.TCPServer.InactivityTimeout) {
				if info, ok := connManager.Get(id); ok {
					log.Warn("closing stale connection", zap.String("connection_id", id), zap.String("device_id", info.DeviceID))
					info.Conn.Close()
				}
			}

			stats := connManager.Stats()
			timerStats := timerManager.Stats()
			log.Info("server statistics",
				zap.Int("connections", stats.TotalConnections),
				zap.Int("max_connections", stats.MaxConnections),
				zap.Int("devices", stats.UniqueDevices),
				zap.Int("scheduled_timers", timerStats.ScheduledTasks))
		}
	}()

	log.Info("grader ingest server running",
		zap.Int("port", cfg.TCPServer.Port),
		zap.Int("load_cells", cfg.Grading.LoadCells))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
}
