package monitor

import (
	"context"
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"

	"osline/internal/logging"
)

const DefaultSchedule = "@every 5m"

// Sweeper runs one SLA sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (Report, error)
}

// Scheduler runs sweeps on a cron expression. A tick that arrives while the
// previous sweep is still running is skipped.
type Scheduler struct {
	cron     *rcron.Cron
	schedule string
	location *time.Location
	timeout  time.Duration
	log      logging.Logger
}

type SchedulerOption func(*Scheduler)

func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSweepTimeout bounds each sweep.
func WithSweepTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = d }
}

func schedulerOptions(log logging.Logger, loc *time.Location) []rcron.Option {
	adapter := cronLogger{log: log}
	return []rcron.Option{
		rcron.WithLocation(loc),
		rcron.WithLogger(adapter),
		rcron.WithChain(rcron.Recover(adapter), rcron.SkipIfStillRunning(adapter)),
	}
}

func NewScheduler(sweeper Sweeper, schedule string, log logging.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		schedule: schedule,
		location: time.UTC,
		log:      logging.OrNop(log),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cron = rcron.New(schedulerOptions(s.log, s.location)...)
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			s.log.Error("scheduled sla sweep failed: %v", err)
			return
		}
		s.log.Info("scheduled sla sweep done scanned=%d notified=%d deduplicated=%d", report.Scanned, report.Notified, report.Deduplicated)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("sla scheduler started schedule=%s", s.schedule)
	s.cron.Start()
}

// Stop prevents new sweeps and waits for a running one to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("sla scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts Logger to robfig/cron's key-value logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
