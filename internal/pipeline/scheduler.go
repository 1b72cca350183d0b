// Package pipeline runs settlement cycles on a cron schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// DefaultCycleTimeout bounds one scheduled cycle when none is configured.
const DefaultCycleTimeout = 4 * time.Minute

// CycleLockKey is the distributed lock held while a cycle runs.
const CycleLockKey = "arena:cycle"

// CycleRunner performs one settlement invocation.
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleReport, error)
}

// Scheduler triggers a CycleRunner on a standard five-field cron
// expression (UTC). A tick that fires while the previous cycle is still
// running is skipped; with a lock manager the same holds across replicas.
type Scheduler struct {
	runner  CycleRunner
	spec    string
	timeout time.Duration
	locks   domain.LockManager
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. timeout <= 0 uses DefaultCycleTimeout.
func NewScheduler(runner CycleRunner, spec string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	return &Scheduler{
		runner:  runner,
		spec:    spec,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// WithLock makes every cycle hold CycleLockKey for its duration.
func (s *Scheduler) WithLock(locks domain.LockManager) *Scheduler {
	s.locks = locks
	return s
}

// Run schedules cycles until ctx is cancelled, then waits for a running
// cycle to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", s.spec, err)
	}

	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("cron", s.spec),
		slog.Duration("cycle_timeout", s.timeout),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs a single cycle under the cycle timeout. Unit failures stay in
// the report; only a failed invocation is returned. When another replica
// holds the cycle lock the error wraps domain.ErrLockHeld.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	if ctx.Err() != nil {
		return domain.CycleReport{}, ctx.Err()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, CycleLockKey, s.timeout)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.InfoContext(ctx, "cycle skipped, another replica is running one")
			return domain.CycleReport{}, fmt.Errorf("pipeline: %w", err)
		case err != nil:
			// Round writes are conditional; concurrent cycles converge.
			s.logger.WarnContext(ctx, "cycle lock unavailable, running unlocked",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	start := time.Now()
	report, err := s.runner.RunCycle(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "cycle failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return report, err
	}

	if !report.OK() {
		s.logger.WarnContext(ctx, "cycle finished with failures",
			slog.String("round_id", report.Round.ID),
			slog.Any("failures", report.Failures),
		)
	}
	return report, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
