package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"castindex/internal/logging"
	"castindex/internal/services"
)

// Job is one scheduled task. The context is cancelled when the scheduler
// stops.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron expressions in a fixed timezone. A job that is
// still running when its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	location *time.Location
	jobs     map[string]cron.EntryID
	ctx      context.Context
}

// New builds a scheduler for the named IANA timezone.
func New(timezone string, logger *slog.Logger) (*Scheduler, error) {
	if strings.TrimSpace(timezone) == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "timezone", timezone, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "schedule")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)
	return &Scheduler{
		cron:     c,
		logger:   logger,
		location: loc,
		jobs:     make(map[string]cron.EntryID),
		ctx:      context.Background(),
	}, nil
}

// Validate checks a standard five-field cron expression.
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return services.Wrap(services.ErrConfiguration, "schedule", "parse", expr, err)
	}
	return nil
}

// Add registers job under name.
func (s *Scheduler) Add(name, expr string, job Job) error {
	id, err := s.cron.AddFunc(expr, func() {
		started := time.Now()
		s.logger.Info("scheduled job started",
			logging.String(logging.FieldEventType, "schedule_job_start"),
			logging.String("job", name),
		)
		if err := job(s.ctx); err != nil {
			logging.WarnWithContext(s.logger, "scheduled job failed", "schedule_job_failed",
				logging.String("job", name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the run log; the next tick retries"),
				logging.String(logging.FieldImpact, "items stay pending until a later run"),
			)
			return
		}
		s.logger.Info("scheduled job completed",
			logging.String(logging.FieldEventType, "schedule_job_complete"),
			logging.String("job", name),
			logging.Duration("elapsed", time.Since(started).Round(time.Second)),
		)
	})
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "schedule", "add "+name, expr, err)
	}
	s.jobs[name] = id
	s.logger.Info("scheduled job registered",
		logging.String("job", name),
		logging.String("cron", expr),
		logging.String("timezone", s.location.String()),
	)
	return nil
}

// Next returns the next activation of the named job. It is unknown until the
// scheduler has started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	for _, entry := range s.cron.Entries() {
		if entry.ID == id {
			return entry.Next, !entry.Next.IsZero()
		}
	}
	return time.Time{}, false
}

// NextAfter returns the first activation of expr after t in the scheduler's
// timezone.
func (s *Scheduler) NextAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, services.Wrap(services.ErrConfiguration, "schedule", "parse", expr, err)
	}
	return sched.Next(t.In(s.location)), nil
}

// Run starts the scheduler and blocks until ctx is cancelled. It returns once
// any running job has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("jobs", len(s.jobs)))
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(fmt.Sprintf("cron %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	l.logger.Error(fmt.Sprintf("cron %s", msg), args...)
}
