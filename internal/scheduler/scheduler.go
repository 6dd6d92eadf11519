package scheduler

import (
	"context"
	"fmt"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/gate"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// WindowPurger deletes rate windows that started before an epoch second.
type WindowPurger interface {
	Purge(ctx context.Context, before int64) (int64, error)
}

// Scheduler runs housekeeping jobs outside the request path.
type Scheduler struct {
	windows WindowPurger
	cfg     config.SchedulerConfig
	c       *cron.Cron
	logger  zerolog.Logger
	now     func() time.Time
}

func NewScheduler(windows WindowPurger, cfg config.SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		windows: windows,
		cfg:     cfg,
		c:       cron.New(),
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
	}
}

// Start registers the purge job on cfg.PurgeSchedule and starts the cron runner.
func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc(s.cfg.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.PurgeWindows(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error purging rate windows")
		}
	})
	if err != nil {
		return fmt.Errorf("error scheduling purge job %q: %w", s.cfg.PurgeSchedule, err)
	}
	s.c.Start()
	return nil
}

// Stop stops the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// PurgeWindows deletes windows older than cfg.PurgeOlderThan. The cutoff never passes the start of
// the current window, so only expired windows are removed.
func (s *Scheduler) PurgeWindows(ctx context.Context) (int64, error) {
	now := s.now()
	before := now.Add(-s.cfg.PurgeOlderThan).Unix()
	if current := gate.WindowStart(now); before > current {
		before = current
	}
	n, err := s.windows.Purge(ctx, before)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("purged", n).Int64("before", before).Msg("Purged stale rate windows")
	return n, nil
}
