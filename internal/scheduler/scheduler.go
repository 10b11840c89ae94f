// Package scheduler runs the periodic staleness check and share-image capture.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "momcal/internal/log"
)

// Refresher is implemented by *feed.Controller.
type Refresher interface {
	RefreshIfStale(ctx context.Context) error
}

// Job is an extra scheduled task such as the share-image capture.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// cronLogger forwards cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// New creates a scheduler evaluating specs in loc. Jobs that are still
// running when their next tick fires are skipped.
func New(loc *time.Location) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		timeout: 5 * time.Minute,
	}
}

// AddRefresh schedules r.RefreshIfStale on spec.
func (s *Scheduler) AddRefresh(spec string, r Refresher) error {
	return s.AddJob("calendar-refresh", spec, r.RefreshIfStale)
}

// AddJob schedules fn on spec. Errors are logged.
func (s *Scheduler) AddJob(name, spec string, fn Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name)
			return
		}
		appLog.Debug("scheduled job finished", "job", name, "elapsed", time.Since(start).Round(time.Millisecond).String())
	})
	if err != nil {
		return fmt.Errorf("add %s (%q): %w", name, spec, err)
	}
	appLog.Info("scheduled job", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
