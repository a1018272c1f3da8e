package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/services/cycle"
)

// cronLogger adapts the application logger to cron's logging interface.
type cronLogger struct {
	logger *common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("Scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("Scheduler: " + msg)
}

// StartScheduler runs the cycle on the configured cron expression until ctx is
// cancelled or StopScheduler is called. A tick that finds the previous run still
// going, or the run lock held by another process, is skipped.
func (a *App) StartScheduler(ctx context.Context) error {
	a.mu.Lock()
	running := a.scheduler != nil
	a.mu.Unlock()
	if running {
		return fmt.Errorf("scheduler already running")
	}

	location := time.UTC
	if tz := a.Config.Schedule.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("%w: schedule.timezone %q: %v", common.ErrConfigInvalid, tz, err)
		}
		location = loc
	}

	logger := cronLogger{logger: a.Logger}
	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(a.Config.Schedule.Cron, func() { a.scheduledRun(ctx) }); err != nil {
		return fmt.Errorf("%w: schedule.cron %q: %v", common.ErrConfigInvalid, a.Config.Schedule.Cron, err)
	}

	a.mu.Lock()
	a.scheduler = c
	a.mu.Unlock()
	c.Start()
	a.Logger.Info().Str("cron", a.Config.Schedule.Cron).Str("timezone", location.String()).
		Time("next", a.NextRun()).Msg("Scheduler: started")

	go func() {
		<-ctx.Done()
		a.StopScheduler()
	}()
	return nil
}

// NextRun returns the next scheduled run, or the zero time when not scheduled.
func (a *App) NextRun() time.Time {
	a.mu.Lock()
	c := a.scheduler
	a.mu.Unlock()
	if c == nil {
		return time.Time{}
	}
	entries := c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// StopScheduler stops scheduling and waits for a running cycle to finish.
func (a *App) StopScheduler() {
	a.mu.Lock()
	c := a.scheduler
	a.scheduler = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.Logger.Info().Msg("Scheduler: stopped")
}

func (a *App) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	summary, err := a.RunCycle(ctx, cycle.Options{})
	switch {
	case errors.Is(err, common.ErrLocked):
		a.Logger.Warn().Err(err).Msg("Scheduler: another run holds the lock, skipping")
	case err != nil:
		a.Logger.Error().Err(err).Msg("Scheduler: cycle failed")
	default:
		a.Logger.Info().Str("run_id", summary.RunID).Int("lines", len(summary.Target)).
			Dur("elapsed", time.Since(start)).Time("next", a.NextRun()).Msg("Scheduler: cycle complete")
	}
}
