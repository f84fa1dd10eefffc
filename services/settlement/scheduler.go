package settlement

import (
	"context"
	"time"

	"talentgrid-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler triggers the monthly settlement batch. The engine itself never
// self-schedules; this loop lives in the worker process only.
type Scheduler struct {
	service *Service
	cfg     *config.Config
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, cfg: cfg}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(context.Background())
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started settlement scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.cfg.Settlement.RunDayOfMonth, s.cfg.Settlement.RunHour)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next settlement run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runBatch(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running settlement batch")

	cutoff := time.Now().UTC()
	report, err := s.service.GenerateAllPendingSettlements(ctx, cutoff, "scheduler")
	if err != nil {
		zap.L().Error("[Scheduler] settlement batch failed", zap.Error(err))
		return
	}

	failed := 0
	for _, item := range report {
		if item.Error != "" {
			failed++
		}
	}

	zap.L().Info("[Scheduler] settlement batch finished",
		zap.Int("licensees", len(report)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime computes the next monthly run at the configured day and hour.
// Day defaults to the 1st, hour to 02:00.
func nextRunTime(now time.Time, day, hour int) time.Time {
	if day <= 0 || day > 28 {
		day = 1
	}
	if hour < 0 || hour > 23 {
		hour = 2
	}

	next := time.Date(now.Year(), now.Month(), day, hour, 0, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
