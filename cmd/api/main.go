package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/api"
	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/repository/mongodb"
	"github.com/smukkama/egg-grader/pkg/config"
	"github.com/smukkama/egg-grader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(logger.New(cfg.Log.Level)).Named("api")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	live := livestore.NewStore(redisClient)

	// Trends are optional; the dashboard works without the summary archive.
	var summaries api.SummaryLookup
	mongoCtx, mongoCancel := context.WithTimeout(ctx, 10*time.Second)
	repo, err := mongodb.NewMongoDBRepository(mongoCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
	mongoCancel()
	if err != nil {
		log.Warn("daily summaries unavailable, live trends disabled", zap.Error(err))
	} else {
		summaries = repo
		defer repo.Close(context.Background())
	}

	handler := api.NewHandler(live, db, db, db, summaries, api.Options{
		SlotsPerRow: cfg.Grading.SlotsPerRow,
		Location:    cfg.Grading.Location(),
	}, log)

	hub := api.NewHub(log)
	defer hub.Close()

	updates, err := live.Subscribe(ctx)
	if err != nil {
		log.Fatal("failed to subscribe to live updates", zap.Error(err))
	}
	go handler.StreamLive(ctx, hub, updates)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handler, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
}
