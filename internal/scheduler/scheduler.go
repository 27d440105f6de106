package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/aggregation"
	"github.com/smukkama/egg-grader/pkg/config"
)

// DailyJob produces the summaries of the previous UTC day.
type DailyJob interface {
	AggregatePreviousDay(ctx context.Context) ([]aggregation.DailySummary, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron    *cron.Cron
	job     DailyJob
	cfg     config.AggregationConfig
	logger  *zap.Logger
	entryID cron.EntryID
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in
// UTC so the daily job lines up with the day boundaries it aggregates.
func NewScheduler(cfg config.AggregationConfig, job DailyJob, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		job:    job,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the daily aggregation and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("daily_cron", s.cfg.DailyCron))

	id, err := s.cron.AddFunc(s.cfg.DailyCron, s.runDailyAggregation)
	if err != nil {
		return fmt.Errorf("failed to schedule daily aggregation: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// Next returns the next planned run of the daily aggregation.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunNow runs the daily aggregation synchronously.
func (s *Scheduler) RunNow() {
	s.runDailyAggregation()
}

func (s *Scheduler) runDailyAggregation() {
	s.logger.Info("running daily aggregation")

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summaries, err := s.job.AggregatePreviousDay(ctx)
	if err != nil {
		s.logger.Error("daily aggregation failed", zap.Error(err))
		return
	}

	s.logger.Info("daily aggregation completed", zap.Int("devices", len(summaries)))
}
