package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/aggregation"
	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/repository/mongodb"
	"github.com/smukkama/egg-grader/internal/repository/sheets"
	"github.com/smukkama/egg-grader/internal/scheduler"
	"github.com/smukkama/egg-grader/pkg/config"
	"github.com/smukkama/egg-grader/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "aggregate the previous day and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(logger.New(cfg.Log.Level)).Named("aggregator")
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting aggregation service")

	db, err := database.Connect(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
	cancel()
	if err != nil {
		log.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer repo.Close(context.Background())

	var sheet aggregation.RowWriter
	if cfg.Sheets.CredentialsPath != "" {
		sheetRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, log)
		if err != nil {
			log.Warn("sheet export disabled", zap.Error(err))
		} else {
			sheet = sheetRepo
		}
	}

	daily := aggregation.NewDailyAggregator(db, repo, sheet, cfg.Sheets.Range, log)
	sched := scheduler.NewScheduler(cfg.Aggregation, daily, log)

	if *once {
		log.Info("aggregating single day", zap.String("date", aggregation.PreviousDate(time.Now())))
		sched.RunNow()
		return
	}

	if err := sched.Start(); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	log.Info("aggregation service running",
		zap.String("schedule", cfg.Aggregation.DailyCron),
		zap.Time("next_run", sched.Next()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
}
